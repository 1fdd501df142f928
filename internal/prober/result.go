package prober

import (
	"errors"
	"fmt"
	"time"

	"github.com/angeloszaimis/proxypool/internal/registry"
)

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnect    ErrorKind = "connect"
	KindStatus     ErrorKind = "status"
	KindMalformed  ErrorKind = "malformed"
	KindInvalidURL ErrorKind = "invalid_url"
)

// ProbeError describes why a single proxy test failed.
type ProbeError struct {
	URL  string
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

type Result struct {
	URL      string
	Protocol string
	Success  bool
	Latency  time.Duration
	Err      error
}

func (r Result) TimeoutSeconds() float64 {
	return r.Latency.Seconds()
}

// ErrKind is empty for successful results.
func (r Result) ErrKind() ErrorKind {
	var perr *ProbeError
	if errors.As(r.Err, &perr) {
		return perr.Kind
	}
	return ""
}

func (r Result) Outcome() registry.Outcome {
	return registry.Outcome{Success: r.Success, Latency: r.Latency}
}

// DeepResult summarizes several sequential probes of one proxy.
type DeepResult struct {
	URL         string
	Attempts    int
	Successes   int
	BestLatency time.Duration
	Confidence  float64
}
