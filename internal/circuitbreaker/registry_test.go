package circuitbreaker_test

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	const (
		metaURL = "https://cdn.example.com/meta.json"
		listURL = "https://cdn.example.com/http/data.txt"
	)

	var (
		registry *circuitbreaker.Registry
		clk      *clock.Mock
	)

	BeforeEach(func() {
		clk = clock.NewMock()
		registry = circuitbreaker.NewRegistry(2, 30*time.Second, clk)
	})

	It("should return the same breaker for the same endpoint", func() {
		Expect(registry.For(metaURL)).To(BeIdenticalTo(registry.For(metaURL)))
		Expect(registry.For(metaURL)).NotTo(BeIdenticalTo(registry.For(listURL)))
	})

	It("should build breakers with the registry threshold and clock", func() {
		cb := registry.For(metaURL)
		cb.RecordFailure()
		cb.RecordFailure()
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

		clk.Add(30 * time.Second)
		Expect(cb.Allow()).To(BeTrue())
	})

	It("should report the state of every endpoint", func() {
		registry.For(metaURL)
		tripped := registry.For(listURL)
		tripped.RecordFailure()
		tripped.RecordFailure()

		states := registry.States()
		Expect(states).To(HaveLen(2))
		Expect(states[metaURL]).To(Equal(circuitbreaker.StateClosed))
		Expect(states[listURL]).To(Equal(circuitbreaker.StateOpen))
	})

	It("should create exactly one breaker under concurrent lookups", func() {
		const goroutines = 100

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(registry.For(metaURL)).NotTo(BeNil())
			}()
		}
		wg.Wait()

		Expect(registry.States()).To(HaveLen(1))
	})
})
