package gallery

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrCacheNotReady indicates a read before the cache was initialized.
	ErrCacheNotReady = errors.New("gallery: cache not ready")
	// ErrCacheAlreadyInitialized indicates a second initialization attempt.
	ErrCacheAlreadyInitialized = errors.New("gallery: cache already initialized")
)

// Cache publishes one collection to concurrent readers.
//
// It is written exactly once. Reads never block; a successful Initialize
// happens-before every Get that observes the collection.
type Cache struct {
	collection atomic.Pointer[Collection]
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Initialize stores collection. Only the first successful call takes effect.
func (c *Cache) Initialize(collection Collection) error {
	if collection.Count() == 0 {
		return fmt.Errorf("initialize gallery cache: %w: no entries", ErrInvalidCollection)
	}

	stored := collection
	if !c.collection.CompareAndSwap(nil, &stored) {
		return fmt.Errorf("initialize gallery cache: %w", ErrCacheAlreadyInitialized)
	}

	return nil
}

// Get returns the initialized collection.
func (c *Cache) Get() (Collection, error) {
	stored := c.collection.Load()
	if stored == nil {
		return Collection{}, ErrCacheNotReady
	}

	return *stored, nil
}

// Ready reports whether Initialize has succeeded.
func (c *Cache) Ready() bool {
	return c.collection.Load() != nil
}
