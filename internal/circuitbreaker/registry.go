package circuitbreaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Registry hands out one breaker per endpoint, created on first use.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	clock     clock.Clock
}

func NewRegistry(threshold int, timeout time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}

	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		clock:     clk,
	}
}

func (r *Registry) For(endpoint string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[endpoint]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[endpoint]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout, r.clock)
	r.breakers[endpoint] = cb
	return cb
}

func (r *Registry) States() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for endpoint, cb := range r.breakers {
		states[endpoint] = cb.State()
	}
	return states
}
