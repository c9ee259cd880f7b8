package executor

import (
	"context"
	"sync"
	"time"

	"toolrun/internal/backpressure"
	"toolrun/internal/registry"
	"toolrun/internal/runtimeerr"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

// ToolFunc is the provider shape BaseExecutor dispatches to: the concrete
// tool implementation the specification treats as an external
// collaborator, registered against a ToolId in a toolrun.ToolRegistry.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// BaseExecutor is the minimal toolrun.Executor that invokes registered
// ToolFuncs directly, with no caching of its own — the reference
// "underlying executor" the Caching Executor decorates.
type BaseExecutor struct {
	registry *registry.InMemoryToolRegistry
	logger   *telemetry.Logger
	flow     *backpressure.FlowController
	retry    *backpressure.RetryOptions

	mu      sync.Mutex
	running map[string]toolrun.RunningExecutionInfo
	cancel  map[string]context.CancelFunc

	total, success, failure int64

	subMu       sync.RWMutex
	onStarted   []func(toolrun.ExecutionStartedEvent)
	onCompleted []func(toolrun.ExecutionCompletedEvent)
	onViolation []func(toolrun.SecurityViolationEvent)
}

// BaseExecutorOption configures a BaseExecutor at construction.
type BaseExecutorOption func(*BaseExecutor)

// WithFlowControl bounds concurrent provider invocations and applies basic
// rate limiting and fault isolation at the provider-invocation boundary,
// ahead of (and independent from) the Caching Executor's own decorator-level
// circuit breaker.
func WithFlowControl(fc *backpressure.FlowController) BaseExecutorOption {
	return func(e *BaseExecutor) { e.flow = fc }
}

// WithRetry retries a failing ToolFunc invocation through
// backpressure.Retry, using opts for backoff: a *runtimeerr.RuntimeError
// whose Retryable is false stops at once, and any other error is retried.
// Without this option there is no provider-level retry.
func WithRetry(opts backpressure.RetryOptions) BaseExecutorOption {
	return func(e *BaseExecutor) { e.retry = &opts }
}

// NewBaseExecutor constructs an executor dispatching through reg.
func NewBaseExecutor(reg *registry.InMemoryToolRegistry, opts ...BaseExecutorOption) *BaseExecutor {
	e := &BaseExecutor{
		registry: reg,
		logger:   telemetry.Default().WithComponent("base-executor"),
		running:  make(map[string]toolrun.RunningExecutionInfo),
		cancel:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *BaseExecutor) Execute(ctx context.Context, req toolrun.ExecuteRequest) (toolrun.ToolResult, error) {
	_, provider, err := e.registry.Get(req.ToolID)
	if err != nil {
		re := runtimeerr.Classify(err)
		return toolrun.ToolResult{Success: false, Error: re.Message}, nil
	}
	fn, ok := provider.(ToolFunc)
	if !ok {
		return toolrun.ToolResult{Success: false, Error: "registered provider is not a ToolFunc"}, nil
	}

	correlationID := req.Context.CorrelationID
	if correlationID == "" {
		correlationID = toolrun.NewCorrelationID()
	}
	runCtx, cancel := context.WithCancel(ctx)
	start := time.Now()

	e.mu.Lock()
	e.running[correlationID] = toolrun.RunningExecutionInfo{CorrelationID: correlationID, ToolID: req.ToolID, StartedAt: start}
	e.cancel[correlationID] = cancel
	e.total++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, correlationID)
		delete(e.cancel, correlationID)
		e.mu.Unlock()
		cancel()
	}()

	e.emitStarted(toolrun.ExecutionStartedEvent{CorrelationID: correlationID, ToolID: req.ToolID, StartedAt: start})

	if e.flow != nil {
		if err := e.flow.Allow(runCtx); err != nil {
			re := runtimeerr.Classify(err)
			durationMs := float64(time.Since(start).Microseconds()) / 1000.0
			result := toolrun.ToolResult{Success: false, Error: re.Message, DurationMs: &durationMs}
			e.mu.Lock()
			e.failure++
			e.mu.Unlock()
			e.emitCompleted(toolrun.ExecutionCompletedEvent{CorrelationID: correlationID, ToolID: req.ToolID, Result: result, Duration: time.Since(start)})
			return result, nil
		}
		defer e.flow.Release()
	}

	var data any
	var err error
	if e.retry != nil {
		err = backpressure.Retry(runCtx, *e.retry, func() error {
			var fnErr error
			data, fnErr = fn(runCtx, req.Params)
			return fnErr
		})
	} else {
		data, err = fn(runCtx, req.Params)
	}
	duration := time.Since(start)
	durationMs := float64(duration.Microseconds()) / 1000.0

	result := toolrun.ToolResult{DurationMs: &durationMs}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		e.mu.Lock()
		e.failure++
		e.mu.Unlock()
		if e.flow != nil {
			e.flow.RecordFailure()
		}
	} else {
		result.Success = true
		result.Data = data
		e.mu.Lock()
		e.success++
		e.mu.Unlock()
		if e.flow != nil {
			e.flow.RecordSuccess()
		}
	}

	e.emitCompleted(toolrun.ExecutionCompletedEvent{CorrelationID: correlationID, ToolID: req.ToolID, Result: result, Duration: duration})
	return result, nil
}

func (e *BaseExecutor) ExecuteTool(ctx context.Context, toolID string, params map[string]any, ectx *toolrun.ExecutionContext) (toolrun.ToolResult, error) {
	req := toolrun.ExecuteRequest{ToolID: toolID, Params: params}
	if ectx != nil {
		req.Context = *ectx
	}
	return e.Execute(ctx, req)
}

func (e *BaseExecutor) Validate(req toolrun.ExecuteRequest) []string {
	if req.ToolID == "" {
		return []string{"toolId is required"}
	}
	if _, _, err := e.registry.Get(req.ToolID); err != nil {
		return []string{"unknown tool: " + req.ToolID}
	}
	return nil
}

func (e *BaseExecutor) EstimateResources(toolID string, params map[string]any) (*toolrun.ResourceUsage, error) {
	return &toolrun.ResourceUsage{}, nil
}

func (e *BaseExecutor) CancelByCorrelationID(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.cancel[id]
	if !ok {
		return 0
	}
	cancel()
	return 1
}

func (e *BaseExecutor) RunningExecutions() []toolrun.RunningExecutionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]toolrun.RunningExecutionInfo, 0, len(e.running))
	for _, info := range e.running {
		out = append(out, info)
	}
	return out
}

func (e *BaseExecutor) Statistics() toolrun.ExecutionStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toolrun.ExecutionStatistics{
		TotalExecutions:  e.total,
		SuccessCount:     e.success,
		FailureCount:     e.failure,
		ActiveExecutions: len(e.running),
	}
}

func (e *BaseExecutor) OnExecutionStarted(fn func(toolrun.ExecutionStartedEvent)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.onStarted = append(e.onStarted, fn)
	idx := len(e.onStarted) - 1
	return func() { e.subMu.Lock(); e.onStarted[idx] = nil; e.subMu.Unlock() }
}

func (e *BaseExecutor) OnExecutionCompleted(fn func(toolrun.ExecutionCompletedEvent)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.onCompleted = append(e.onCompleted, fn)
	idx := len(e.onCompleted) - 1
	return func() { e.subMu.Lock(); e.onCompleted[idx] = nil; e.subMu.Unlock() }
}

func (e *BaseExecutor) OnSecurityViolation(fn func(toolrun.SecurityViolationEvent)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.onViolation = append(e.onViolation, fn)
	idx := len(e.onViolation) - 1
	return func() { e.subMu.Lock(); e.onViolation[idx] = nil; e.subMu.Unlock() }
}

func (e *BaseExecutor) emitStarted(ev toolrun.ExecutionStartedEvent) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, fn := range e.onStarted {
		if fn != nil {
			fn(ev)
		}
	}
}

func (e *BaseExecutor) emitCompleted(ev toolrun.ExecutionCompletedEvent) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, fn := range e.onCompleted {
		if fn != nil {
			fn(ev)
		}
	}
}
