// Package executor implements the Caching Executor: a decorator that
// layers result caching, circuit breaking, event re-emission, and audit
// logging on top of an underlying toolrun.Executor.
package executor

import (
	"context"
	"sync"
	"time"

	"toolrun/internal/backpressure"
	"toolrun/internal/cache"
	"toolrun/internal/fingerprint"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

// CachingExecutor wraps an underlying executor with the Execution Cache.
// Besides Execute, Statistics also differs from the inner executor's: it
// overlays the cache's hit and miss counts.
type CachingExecutor struct {
	inner   toolrun.Executor
	cache   *cache.ExecutionCache
	breaker *backpressure.CircuitBreaker
	logger  *telemetry.Logger
	audit   toolrun.AuditLogger

	mu          sync.RWMutex
	onStarted   []func(toolrun.ExecutionStartedEvent)
	onCompleted []func(toolrun.ExecutionCompletedEvent)
	onViolation []func(toolrun.SecurityViolationEvent)
	unsubscribe []func()
}

// Option configures a CachingExecutor at construction.
type Option func(*CachingExecutor)

// WithCircuitBreaker wraps calls to the underlying executor with a circuit
// breaker; a persistently failing tool stops being hammered by retries. A
// nil breaker (the default) disables this behavior.
func WithCircuitBreaker(cb *backpressure.CircuitBreaker) Option {
	return func(e *CachingExecutor) { e.breaker = cb }
}

// WithAuditLogger attaches an audit sink called around every execute.
func WithAuditLogger(a toolrun.AuditLogger) Option {
	return func(e *CachingExecutor) { e.audit = a }
}

// WithLogger overrides the default logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *CachingExecutor) { e.logger = l }
}

// NewCachingExecutor constructs a CachingExecutor over inner, backed by c.
func NewCachingExecutor(inner toolrun.Executor, c *cache.ExecutionCache, opts ...Option) *CachingExecutor {
	e := &CachingExecutor{
		inner:  inner,
		cache:  c,
		logger: telemetry.Default().WithComponent("caching-executor"),
		audit:  toolrun.NopAuditLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.unsubscribe = append(e.unsubscribe,
		inner.OnExecutionStarted(e.forwardStarted),
		inner.OnExecutionCompleted(e.forwardCompleted),
		inner.OnSecurityViolation(e.forwardViolation),
	)
	return e
}

func enableCaching(ctx toolrun.ExecutionContext) bool {
	v, ok := ctx.AdditionalData["EnableCaching"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Execute runs req, consulting the cache when caching is enabled for this
// request (request.Context.AdditionalData["EnableCaching"] == true).
func (e *CachingExecutor) Execute(ctx context.Context, req toolrun.ExecuteRequest) (toolrun.ToolResult, error) {
	if !enableCaching(req.Context) {
		return e.executeThrough(ctx, req)
	}

	key := e.cache.GenerateCacheKey(req.ToolID, req.Params, fingerprintContext(req.Context))
	if cached, ok := e.cache.Get(key); ok {
		result := cached.Result
		result.Success = cached.Result.Success
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		result.Metadata["cache_hit"] = true
		result.Metadata["cached_at"] = cached.CachedAt
		result.Metadata["hit_count"] = cached.HitCount
		e.auditResult(ctx, req, result)
		return result, nil
	}

	result, err := e.executeThrough(ctx, req)
	if err != nil {
		return result, err
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Errorf("cache write panicked: %v", r)
			}
		}()
		e.cache.Set(key, req.ToolID, result, policyFromRequest(req.Context))
	}()

	return result, nil
}

func policyFromRequest(ctx toolrun.ExecutionContext) cache.SetPolicy {
	policy := cache.SetPolicy{}
	if v, ok := ctx.AdditionalData["CacheTimeToLive"]; ok {
		if d, ok := v.(time.Duration); ok {
			policy.TTL = &d
		}
	}
	if v, ok := ctx.AdditionalData["CachePriority"]; ok {
		if p, ok := v.(cache.Priority); ok {
			policy.Priority = p
		}
	}
	if v, ok := ctx.AdditionalData["CacheFailures"]; ok {
		if b, ok := v.(bool); ok {
			policy.CacheFailures = b
		}
	}
	if v, ok := ctx.AdditionalData["CacheDependencies"]; ok {
		if deps, ok := v.([]string); ok {
			policy.Dependencies = deps
		}
	}
	return policy
}

func fingerprintContext(ctx toolrun.ExecutionContext) *fingerprint.Context {
	excluded := make(map[string]struct{}, len(ctx.ExcludedParams))
	for _, p := range ctx.ExcludedParams {
		excluded[p] = struct{}{}
	}
	return &fingerprint.Context{
		UserID:            ctx.UserID,
		Env:               ctx.Env,
		Version:           ctx.Version,
		AdditionalContext: ctx.AdditionalContext,
		ExcludedParams:    excluded,
	}
}

// executeThrough calls the underlying executor, honoring the circuit
// breaker if one is configured. Errors in the cache path never reach
// here; they are handled entirely in Execute.
func (e *CachingExecutor) executeThrough(ctx context.Context, req toolrun.ExecuteRequest) (toolrun.ToolResult, error) {
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return toolrun.ToolResult{Success: false, Error: err.Error()}, err
		}
	}

	result, err := e.inner.Execute(ctx, req)
	if e.breaker != nil {
		if err != nil || !result.Success {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
	}
	e.auditResult(ctx, req, result)
	return result, err
}

func (e *CachingExecutor) auditResult(ctx context.Context, req toolrun.ExecuteRequest, result toolrun.ToolResult) {
	e.audit.LogToolInvocation(ctx, toolrun.AuditEntry{
		CorrelationID: req.Context.CorrelationID,
		ToolID:        req.ToolID,
		Params:        req.Params,
		Success:       result.Success,
		Error:         result.Error,
		Timestamp:     time.Now().UTC(),
	})
}

// ExecuteTool is a convenience wrapper building an ExecuteRequest.
func (e *CachingExecutor) ExecuteTool(ctx context.Context, toolID string, params map[string]any, ectx *toolrun.ExecutionContext) (toolrun.ToolResult, error) {
	req := toolrun.ExecuteRequest{ToolID: toolID, Params: params}
	if ectx != nil {
		req.Context = *ectx
	}
	return e.Execute(ctx, req)
}

func (e *CachingExecutor) Validate(req toolrun.ExecuteRequest) []string {
	return e.inner.Validate(req)
}

func (e *CachingExecutor) EstimateResources(toolID string, params map[string]any) (*toolrun.ResourceUsage, error) {
	return e.inner.EstimateResources(toolID, params)
}

func (e *CachingExecutor) CancelByCorrelationID(id string) int {
	return e.inner.CancelByCorrelationID(id)
}

func (e *CachingExecutor) RunningExecutions() []toolrun.RunningExecutionInfo {
	return e.inner.RunningExecutions()
}

func (e *CachingExecutor) Statistics() toolrun.ExecutionStatistics {
	stats := e.inner.Statistics()
	cacheStats := e.cache.Statistics()
	stats.CacheHits = cacheStats.HitCount
	stats.CacheMisses = cacheStats.MissCount
	return stats
}

func (e *CachingExecutor) OnExecutionStarted(fn func(toolrun.ExecutionStartedEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStarted = append(e.onStarted, fn)
	idx := len(e.onStarted) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.onStarted[idx] = nil
	}
}

func (e *CachingExecutor) OnExecutionCompleted(fn func(toolrun.ExecutionCompletedEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompleted = append(e.onCompleted, fn)
	idx := len(e.onCompleted) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.onCompleted[idx] = nil
	}
}

func (e *CachingExecutor) OnSecurityViolation(fn func(toolrun.SecurityViolationEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onViolation = append(e.onViolation, fn)
	idx := len(e.onViolation) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.onViolation[idx] = nil
	}
}

func (e *CachingExecutor) forwardStarted(ev toolrun.ExecutionStartedEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onStarted {
		if fn != nil {
			fn(ev)
		}
	}
}

func (e *CachingExecutor) forwardCompleted(ev toolrun.ExecutionCompletedEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onCompleted {
		if fn != nil {
			fn(ev)
		}
	}
}

func (e *CachingExecutor) forwardViolation(ev toolrun.SecurityViolationEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onViolation {
		if fn != nil {
			fn(ev)
		}
	}
}

// Dispose unsubscribes from the inner executor's event streams and
// disposes it if it is Disposable.
func (e *CachingExecutor) Dispose() error {
	for _, unsub := range e.unsubscribe {
		unsub()
	}
	if d, ok := e.inner.(toolrun.Disposable); ok {
		return d.Dispose()
	}
	return nil
}
