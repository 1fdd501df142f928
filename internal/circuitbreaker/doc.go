// Package circuitbreaker guards upstream feed endpoints against repeated
// failures.
//
// Every endpoint gets its own breaker. After a run of consecutive failures the
// breaker opens and calls are refused until the reset timeout has elapsed on
// the injected clock. The first call after that runs half-open: a success
// closes the breaker again, a failure reopens it.
//
//   - CLOSED: calls pass through
//   - OPEN: calls refused with ErrOpen
//   - HALF-OPEN: one trial call allowed
//
// Usage:
//
//	breakers := circuitbreaker.NewRegistry(3, time.Minute, clock.New())
//	err := breakers.For(metaURL).Do(func() error {
//	    return fetchMeta(ctx)
//	})
package circuitbreaker
