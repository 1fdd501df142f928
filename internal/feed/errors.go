package feed

import (
	"fmt"

	"github.com/angeloszaimis/proxypool/internal/circuitbreaker"
)

// ErrCircuitOpen is wrapped by FetchError while an endpoint's breaker is open.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// FetchError is a transient failure to read or parse one feed source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
