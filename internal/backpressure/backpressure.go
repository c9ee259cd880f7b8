// Package backpressure provides rate limiting, circuit breakers, and flow control.
package backpressure

import (
	"context"
	"sync/atomic"
	"time"

	"toolrun/internal/runtimeerr"
)

// FlowController provides unified flow control with backpressure, circuit breaking, and rate limiting.
type FlowController struct {
	semaphore      *Semaphore
	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter

	requestsTotal   atomic.Uint64
	requestsAllowed atomic.Uint64
	requestsDenied  atomic.Uint64

	name string
}

// FlowControllerOptions configures the flow controller.
type FlowControllerOptions struct {
	Name             string
	MaxConcurrency   int
	CircuitThreshold int
	CircuitTimeout   time.Duration
	RateLimitPerSec  float64
	RateLimitBurst   int
}

// DefaultFlowControllerOptions returns sensible defaults.
func DefaultFlowControllerOptions() FlowControllerOptions {
	return FlowControllerOptions{
		Name:             "default",
		MaxConcurrency:   100,
		CircuitThreshold: 5,
		CircuitTimeout:   30 * time.Second,
		RateLimitPerSec:  100,
		RateLimitBurst:   10,
	}
}

// NewFlowController creates a unified flow controller.
func NewFlowController(opts FlowControllerOptions) *FlowController {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 100
	}
	if opts.CircuitThreshold <= 0 {
		opts.CircuitThreshold = 5
	}
	if opts.CircuitTimeout <= 0 {
		opts.CircuitTimeout = 30 * time.Second
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 100
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}

	return &FlowController{
		semaphore:      NewSemaphore(opts.MaxConcurrency),
		circuitBreaker: NewCircuitBreaker(CircuitBreakerOptions{
			Threshold:   opts.CircuitThreshold,
			Timeout:     opts.CircuitTimeout,
			HalfOpenMax: 1,
		}),
		rateLimiter: NewRateLimiter(opts.RateLimitPerSec, opts.RateLimitBurst),
		name:        opts.Name,
	}
}

// Allow checks if a request should be allowed through all controls.
func (fc *FlowController) Allow(ctx context.Context) error {
	fc.requestsTotal.Add(1)

	// Check circuit breaker first (fastest)
	if err := fc.circuitBreaker.Allow(); err != nil {
		fc.requestsDenied.Add(1)
		return runtimeerr.Wrap(err, runtimeerr.CodeCircuitOpen, "circuit breaker open")
	}

	// Check rate limiter
	if err := fc.rateLimiter.Wait(ctx); err != nil {
		fc.circuitBreaker.RecordFailure()
		fc.requestsDenied.Add(1)
		return runtimeerr.Wrap(err, runtimeerr.CodeRateLimitExceeded, "rate limit exceeded")
	}

	// Acquire semaphore
	if err := fc.semaphore.Acquire(ctx); err != nil {
		fc.circuitBreaker.RecordFailure()
		fc.requestsDenied.Add(1)
		return runtimeerr.Wrap(err, runtimeerr.CodeResourceExhausted, "concurrency limit reached")
	}

	fc.requestsAllowed.Add(1)
	return nil
}

// Release releases resources after request completion.
func (fc *FlowController) Release() {
	fc.semaphore.Release()
}

// RecordSuccess records a successful request.
func (fc *FlowController) RecordSuccess() {
	fc.circuitBreaker.RecordSuccess()
}

// RecordFailure records a failed request.
func (fc *FlowController) RecordFailure() {
	fc.circuitBreaker.RecordFailure()
}

// Stats returns flow controller statistics.
func (fc *FlowController) Stats() FlowStats {
	cbStats := fc.circuitBreaker.Stats()
	return FlowStats{
		Name:            fc.name,
		RequestsTotal:   fc.requestsTotal.Load(),
		RequestsAllowed: fc.requestsAllowed.Load(),
		RequestsDenied:  fc.requestsDenied.Load(),
		CircuitState:    cbStats.State.String(),
		CircuitFailures: cbStats.Failures,
		AvailableSlots:  fc.semaphore.Available(),
		MaxConcurrency:  fc.semaphore.Max(),
	}
}

// FlowStats contains flow controller statistics.
type FlowStats struct {
	Name            string `json:"name"`
	RequestsTotal   uint64 `json:"requests_total"`
	RequestsAllowed uint64 `json:"requests_allowed"`
	RequestsDenied  uint64 `json:"requests_denied"`
	CircuitState    string `json:"circuit_state"`
	CircuitFailures int    `json:"circuit_failures"`
	AvailableSlots  int    `json:"available_slots"`
	MaxConcurrency  int    `json:"max_concurrency"`
}

// Stop stops the flow controller and its rate limiter.
func (fc *FlowController) Stop() {
	fc.rateLimiter.Stop()
}
