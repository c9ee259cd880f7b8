package chain

import (
	"time"

	"toolrun/internal/telemetry"
)

// ChainError is one error recorded against a chain execution, tagged with
// the spec's error-kind taxonomy (VALIDATION_ERROR, STEP_FAILED, ...).
type ChainError struct {
	StepID  string
	Code    string
	Message string
}

// Result is the outcome of Engine.Execute.
type Result struct {
	ChainID     string
	Status      Status
	Data        any
	StepResults map[string]StepResult
	Errors      []ChainError
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration

	// Trace is the chain's root span followed by one span per step
	// execution parented to it, for hosts that want step-level timing
	// without a full OpenTelemetry collector.
	Trace []*telemetry.Span
}

// SuccessfulSteps is the count of recorded steps that succeeded.
func (r *Result) SuccessfulSteps() int {
	n := 0
	for _, sr := range r.StepResults {
		if sr.Success {
			n++
		}
	}
	return n
}

// FailedSteps is the count of recorded steps that failed.
func (r *Result) FailedSteps() int {
	n := 0
	for _, sr := range r.StepResults {
		if !sr.Success {
			n++
		}
	}
	return n
}
