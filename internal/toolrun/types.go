// Package toolrun defines the data model and external interfaces the core
// runtime consumes from its host: the executor it wraps, the tool
// registry, tool discovery, and the security/resource/output/validation
// collaborators treated as black boxes by the specification.
package toolrun

import (
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID generates a random correlation id for callers that
// don't supply their own (direct executor calls outside a chain, ad hoc
// tool invocations from toolmcp).
func NewCorrelationID() string {
	return uuid.NewString()
}

// ToolResult is the outcome of a single tool invocation. Data MUST be
// representable in the parameter value grammar (JSON-serializable).
type ToolResult struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	DurationMs *float64       `json:"durationMs,omitempty"`
}

// ExecutionContext is per-call state: correlation id, user, permissions,
// and the context fields that feed the fingerprint.
type ExecutionContext struct {
	CorrelationID     string
	UserID            string
	Env               string
	Version           string
	Permissions       []string
	AdditionalContext map[string]string
	AdditionalData    map[string]any
	ExcludedParams    []string
}

// ExecuteRequest is the uniform request shape for the Executor boundary.
type ExecuteRequest struct {
	ToolID  string
	Params  map[string]any
	Context ExecutionContext
}

// ResourceUsage is an estimate or measurement of resource consumption for
// a tool invocation.
type ResourceUsage struct {
	CPUMillis    int64
	MemoryBytes  int64
	NetworkBytes int64
}

// RunningExecutionInfo describes one in-flight execution.
type RunningExecutionInfo struct {
	CorrelationID string
	ToolID        string
	StartedAt     time.Time
}

// ExecutionStatistics is a point-in-time snapshot of executor activity.
type ExecutionStatistics struct {
	TotalExecutions   int64
	SuccessCount      int64
	FailureCount      int64
	ActiveExecutions  int
	CacheHits         int64
	CacheMisses       int64
	SecurityViolation int64
}

// ExecutionStartedEvent is emitted when an execution begins.
type ExecutionStartedEvent struct {
	CorrelationID string
	ToolID        string
	StartedAt     time.Time
}

// ExecutionCompletedEvent is emitted when an execution finishes, whatever
// the outcome.
type ExecutionCompletedEvent struct {
	CorrelationID string
	ToolID        string
	Result        ToolResult
	Duration      time.Duration
}

// SecurityViolationEvent is emitted by the underlying executor and
// re-emitted, unmodified, by the Caching Executor decorator.
type SecurityViolationEvent struct {
	CorrelationID string
	ToolID        string
	Reason        string
	Timestamp     time.Time
}
