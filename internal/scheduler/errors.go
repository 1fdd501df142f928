package scheduler

import "fmt"

// FatalWorkerError stops the scheduler loop. It is not retried internally.
type FatalWorkerError struct {
	Pass string
	Err  error
}

func (e *FatalWorkerError) Error() string {
	return fmt.Sprintf("scheduler stopped in %s pass: %v", e.Pass, e.Err)
}

func (e *FatalWorkerError) Unwrap() error {
	return e.Err
}
