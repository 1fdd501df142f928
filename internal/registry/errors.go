package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the working set is empty.
	ErrUnavailable = errors.New("no working proxies available")
	ErrNotFound    = errors.New("proxy record not found")
	ErrInvalidURL  = errors.New("invalid proxy url")
)

// PersistenceError is a database failure that survived every retry.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("registry %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
