// Package gallery holds the curated image collection served by the bot: the
// collection value, the write-once cache that publishes it to concurrent
// readers, and uniform random selection over it.
package gallery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCollection indicates a collection that violates its count or entry invariants.
	ErrInvalidCollection = errors.New("gallery: invalid collection")
	// ErrEmptyCollection indicates selection over a collection with no entries.
	ErrEmptyCollection = errors.New("gallery: empty collection")
)

// Entry is one image of a collection.
type Entry struct {
	// ID is the provider identifier of the image.
	ID string
	// Link is the direct URI of the image; it is what the bot replies with.
	Link string
	// Title is the optional image title.
	Title string
	// Type is the MIME type reported by the provider.
	Type string
	// Animated reports whether the image is animated.
	Animated bool
	// Width is the image width in pixels.
	Width int
	// Height is the image height in pixels.
	Height int
	// SizeBytes is the stored image size.
	SizeBytes int64
	// Views is the provider view counter at fetch time.
	Views int64
}

// Collection is an immutable, ordered set of gallery entries.
//
// The zero value is an empty collection.
type Collection struct {
	id      string
	title   string
	entries []Entry
}

// NewCollection builds a collection and checks that count matches the number
// of entries, that there is at least one entry, and that every entry has a link.
//
// entries is copied; later changes by the caller are not observed.
func NewCollection(id string, title string, count int, entries []Entry) (Collection, error) {
	if count != len(entries) {
		return Collection{}, fmt.Errorf("%w: count %d does not match %d entries", ErrInvalidCollection, count, len(entries))
	}
	if count == 0 {
		return Collection{}, fmt.Errorf("%w: no entries", ErrInvalidCollection)
	}
	for index, entry := range entries {
		if strings.TrimSpace(entry.Link) == "" {
			return Collection{}, fmt.Errorf("%w: entry[%d] %q has no link", ErrInvalidCollection, index, entry.ID)
		}
	}

	return Collection{
		id:      id,
		title:   title,
		entries: append([]Entry(nil), entries...),
	}, nil
}

// ID returns the provider identifier of the collection.
func (c Collection) ID() string {
	return c.id
}

// Title returns the collection title.
func (c Collection) Title() string {
	return c.title
}

// Count returns the number of entries.
func (c Collection) Count() int {
	return len(c.entries)
}

// Entry returns a copy of the entry at index.
func (c Collection) Entry(index int) (Entry, bool) {
	if index < 0 || index >= len(c.entries) {
		return Entry{}, false
	}

	return c.entries[index], true
}

// Links returns the entry links in order.
func (c Collection) Links() []string {
	links := make([]string, 0, len(c.entries))
	for _, entry := range c.entries {
		links = append(links, entry.Link)
	}

	return links
}
