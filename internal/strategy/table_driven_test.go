package strategy_test

import (
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/strategy"
)

var _ = Describe("Table-Driven Strategy Tests", func() {
	DescribeTable("All strategies can be instantiated",
		func(createStrat func() strategy.Strategy) {
			strat := createStrat()
			Expect(strat).NotTo(BeNil())
		},
		Entry("Fastest", func() strategy.Strategy { return strategy.NewFastestStrategy() }),
		Entry("Random", func() strategy.Strategy { return strategy.NewRandomStrategy(nil) }),
		Entry("Fastest-biased", func() strategy.Strategy { return strategy.NewFastestBiasedStrategy(strategy.DefaultBias, nil) }),
	)

	DescribeTable("All strategies return -1 for an empty list",
		func(createStrat func() strategy.Strategy) {
			Expect(createStrat().SelectIndex(0)).To(Equal(-1))
		},
		Entry("Fastest", func() strategy.Strategy { return strategy.NewFastestStrategy() }),
		Entry("Random", func() strategy.Strategy { return strategy.NewRandomStrategy(nil) }),
		Entry("Fastest-biased", func() strategy.Strategy { return strategy.NewFastestBiasedStrategy(strategy.DefaultBias, nil) }),
	)

	DescribeTable("All strategies stay within bounds",
		func(createStrat func() strategy.Strategy) {
			strat := createStrat()
			for n := 1; n <= 10; n++ {
				for i := 0; i < 50; i++ {
					idx := strat.SelectIndex(n)
					Expect(idx).To(BeNumerically(">=", 0))
					Expect(idx).To(BeNumerically("<", n))
				}
			}
		},
		Entry("Fastest", func() strategy.Strategy { return strategy.NewFastestStrategy() }),
		Entry("Random", func() strategy.Strategy { return strategy.NewRandomStrategy(rand.New(rand.NewPCG(1, 2))) }),
		Entry("Fastest-biased", func() strategy.Strategy {
			return strategy.NewFastestBiasedStrategy(strategy.DefaultBias, rand.New(rand.NewPCG(3, 4)))
		}),
	)
})
