package strategy

import (
	"math/rand/v2"
)

type randomStrategy struct {
	src *source
}

func (r *randomStrategy) SelectIndex(n int) int {
	if n <= 0 {
		return -1
	}

	return r.src.intN(n)
}

// NewRandomStrategy selects uniformly. rng may be nil.
func NewRandomStrategy(rng *rand.Rand) Strategy {
	return &randomStrategy{src: &source{rng: rng}}
}
