package strategy

import (
	"math/rand/v2"
	"sync"
)

// Strategy picks a position in a fastest-first list of n candidates.
// It returns -1 when n is zero.
type Strategy interface {
	SelectIndex(n int) int
}

// source serializes access to an optional seeded generator. A nil rng falls
// back to the package-level generator, which is already goroutine safe.
type source struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

func (s *source) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rng.IntN(n)
}

func (s *source) float64() float64 {
	if s.rng == nil {
		return rand.Float64()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rng.Float64()
}
