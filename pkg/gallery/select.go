package gallery

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// RandomSource draws integers uniformly from [0, n).
type RandomSource interface {
	IntN(n int) int
}

// Select returns an entry chosen uniformly at random.
func Select(collection Collection, rng RandomSource) (Entry, error) {
	count := collection.Count()
	if count == 0 {
		return Entry{}, ErrEmptyCollection
	}
	if rng == nil {
		return Entry{}, fmt.Errorf("select gallery entry: nil random source")
	}

	index := rng.IntN(count)
	entry, ok := collection.Entry(index)
	if !ok {
		return Entry{}, fmt.Errorf("select gallery entry: index %d out of range [0, %d)", index, count)
	}

	return entry, nil
}

type globalSource struct{}

func (globalSource) IntN(n int) int {
	return rand.IntN(n)
}

// NewSource returns a source backed by the process-wide generator.
// It is safe for concurrent use.
func NewSource() RandomSource {
	return globalSource{}
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *seededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rng.IntN(n)
}

// NewSeededSource returns a deterministic PCG source for a fixed seed pair.
// It is safe for concurrent use.
func NewSeededSource(seed1 uint64, seed2 uint64) RandomSource {
	return &seededSource{
		rng: rand.New(rand.NewPCG(seed1, seed2)),
	}
}
