package toolrun

import (
	"context"
	"time"
)

// Executor is the boundary the Chain Engine and the host both talk to: a
// single tool invocation surface with validation, resource estimation,
// cancellation, introspection, and an event stream. The Caching Executor
// wraps one Executor and itself satisfies the interface.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ToolResult, error)
	ExecuteTool(ctx context.Context, toolID string, params map[string]any, ectx *ExecutionContext) (ToolResult, error)
	Validate(req ExecuteRequest) []string
	EstimateResources(toolID string, params map[string]any) (*ResourceUsage, error)
	CancelByCorrelationID(id string) int
	RunningExecutions() []RunningExecutionInfo
	Statistics() ExecutionStatistics

	OnExecutionStarted(fn func(ExecutionStartedEvent)) (unsubscribe func())
	OnExecutionCompleted(fn func(ExecutionCompletedEvent)) (unsubscribe func())
	OnSecurityViolation(fn func(SecurityViolationEvent)) (unsubscribe func())
}

// Disposable is implemented by executors (or other collaborators) that
// hold resources needing an explicit release. The Caching Executor
// disposes its inner executor if it implements this.
type Disposable interface {
	Dispose() error
}

// DiscoveredTool is one result of a Discovery sweep: metadata plus the
// provider value the registry will store against it.
type DiscoveredTool struct {
	ID          string
	Name        string
	Description string
	Category    string
	Provider    any
}

// DiscoveryOptions parameterizes a discovery sweep; shape is host-defined.
type DiscoveryOptions map[string]any

// Discovery is the tool-discovery boundary for populating the tool
// registry beyond explicitly registered tools. The Lifecycle Manager does
// not call it: Initialize runs only the registered InitSteps.
type Discovery interface {
	Discover(ctx context.Context, opts DiscoveryOptions) ([]DiscoveredTool, error)
}

// SecurityManager is consumed by the Lifecycle Manager's periodic
// maintenance to clear old security violations. Its full surface is
// treated as a black box by the specification; only the maintenance hook
// is modeled here.
type SecurityManager interface {
	ClearOldViolations(ctx context.Context, olderThan time.Time) error
}

// ResourceMonitor is the resource-limit boundary; treated as a black box.
// BaseExecutor does not call it.
type ResourceMonitor interface {
	Check(ctx context.Context, toolID string, usage ResourceUsage) error
}

// OutputLimiter truncates or rejects oversized tool output; treated as a
// black box.
type OutputLimiter interface {
	Limit(data any) any
}

// Validator performs pre-execution parameter validation beyond what the
// registry's parameter schema enforces; treated as a black box.
type Validator interface {
	Validate(req ExecuteRequest) []string
}
