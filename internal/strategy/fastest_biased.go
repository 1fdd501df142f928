package strategy

import (
	"math/rand/v2"
)

// DefaultBias is the probability of drawing from the faster half.
const DefaultBias = 0.7

type fastestBiasedStrategy struct {
	bias float64
	src  *source
}

func (f *fastestBiasedStrategy) SelectIndex(n int) int {
	if n <= 0 {
		return -1
	}

	if f.src.float64() < f.bias {
		half := n / 2
		if half < 1 {
			half = 1
		}
		return f.src.intN(half)
	}

	return f.src.intN(n)
}

// NewFastestBiasedStrategy draws from the faster half of the list with
// probability bias and from the whole list otherwise. A bias outside [0, 1]
// falls back to DefaultBias. rng may be nil.
func NewFastestBiasedStrategy(bias float64, rng *rand.Rand) Strategy {
	if bias < 0 || bias > 1 {
		bias = DefaultBias
	}

	return &fastestBiasedStrategy{
		bias: bias,
		src:  &source{rng: rng},
	}
}
