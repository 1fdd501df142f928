package circuitbreaker_test

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		cb  *circuitbreaker.CircuitBreaker
		clk *clock.Mock
	)

	BeforeEach(func() {
		clk = clock.NewMock()
		cb = circuitbreaker.NewCircuitBreaker(3, time.Minute, clk)
	})

	trip := func() {
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	}

	It("should start closed", func() {
		Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		Expect(cb.Allow()).To(BeTrue())
	})

	Context("when in CLOSED state", func() {
		It("should remain closed after failures below threshold", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should open at the failure threshold", func() {
			trip()
		})
	})

	Context("when in OPEN state", func() {
		BeforeEach(trip)

		It("should refuse calls before the reset timeout", func() {
			clk.Add(59 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should go half-open once the reset timeout has elapsed", func() {
			clk.Add(time.Minute)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})

	Context("when in HALF-OPEN state", func() {
		BeforeEach(func() {
			trip()
			clk.Add(time.Minute)
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should close on success", func() {
			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should reopen on a single failure and restart the timeout", func() {
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			clk.Add(30 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	Describe("Do", func() {
		It("should record failures returned by fn", func() {
			boom := errors.New("boom")
			for i := 0; i < 3; i++ {
				Expect(cb.Do(func() error { return boom })).To(MatchError(boom))
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should not call fn while open", func() {
			trip()
			called := false
			err := cb.Do(func() error {
				called = true
				return nil
			})
			Expect(err).To(MatchError(circuitbreaker.ErrOpen))
			Expect(called).To(BeFalse())
		})

		It("should reset the failure count on success", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.Do(func() error { return nil })).To(Succeed())
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF-OPEN"))
		})
	})
})
