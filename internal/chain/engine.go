package chain

import (
	"context"
	"errors"
	"math"
	"time"

	"toolrun/internal/backpressure"
	"toolrun/internal/runtimeerr"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

// Engine validates a Chain, computes its execution order once up front,
// and runs steps with retry/backoff, aggregating results. Grounded on the
// admission-control and confidence-branch idioms of the teacher's job
// scheduler, generalized here into real dependency-ordered execution
// (the teacher's own "DAG executor" never implemented topological order).
type Engine struct {
	executor       toolrun.Executor
	logger         *telemetry.Logger
	metrics        *telemetry.MetricsCollector
	tracer         *telemetry.Tracer
	maxParallelism int
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithMetrics attaches a metrics collector; every step execution is
// recorded against it.
func WithMetrics(m *telemetry.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the engine's default tracer. Every chain execution
// gets a root span named after the chain, with one child span per step
// execution; the finished spans are returned on Result.Trace.
func WithTracer(t *telemetry.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithMaxParallelism bounds the goroutine fan-out of a Parallel step (0 =
// unlimited).
func WithMaxParallelism(n int) EngineOption {
	return func(e *Engine) { e.maxParallelism = n }
}

// NewEngine constructs an Engine that runs Tool steps against executor.
func NewEngine(executor toolrun.Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		executor: executor,
		logger:   telemetry.Default().WithComponent("chain-engine"),
		tracer:   telemetry.NewTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates c, computes its execution order, and runs it to
// completion (or cancellation). A validation failure short-circuits with
// Status Failed and one ChainError per issue.
func (e *Engine) Execute(ctx context.Context, c *Chain, initialParams map[string]any, ectx toolrun.ExecutionContext, onProgress func(ProgressEvent)) *Result {
	start := time.Now()

	if issues := c.Validate(); len(issues) > 0 {
		errs := make([]ChainError, 0, len(issues))
		for _, v := range issues {
			errs = append(errs, ChainError{StepID: v.StepID, Code: string(runtimeerr.CodeValidation), Message: v.Message})
		}
		return &Result{
			ChainID:   c.ID,
			Status:    StatusFailed,
			Errors:    errs,
			StartTime: start,
			EndTime:   start,
		}
	}

	order := topoOrder(c.Steps)
	cctx := newContext(c, initialParams, ectx, onProgress)

	rootSpan := e.tracer.StartSpan("chain:" + c.ID)

	executed := make(map[string]bool, len(order))
	var chainErrors []ChainError
	status := StatusRunning
	cancelled := false

loop:
	for i, step := range order {
		if ctx.Err() != nil {
			status = StatusCancelled
			cancelled = true
			break loop
		}

		for _, dep := range step.Dependencies {
			if !executed[dep] {
				continue loop
			}
		}

		cctx.CurrentStep = step.ID
		cctx.ReportProgress(step.Name, float64(i)/float64(len(order))*100)

		stepSpan := e.tracer.StartSpanWithParent(step.Name, rootSpan.ID)
		stepSpan.SetTag("step_id", step.ID)

		stepStart := time.Now()
		outcome, retryAttempts, err := e.executeWithRetry(ctx, cctx, step)
		finished := time.Now()

		if err != nil {
			stepSpan.FinishWithError(err)
		} else if !outcome.Success {
			stepSpan.FinishWithError(errors.New(outcome.Error))
		} else {
			stepSpan.Finish()
		}

		result := StepResult{
			StepID:        step.ID,
			Success:       outcome.Success,
			Data:          outcome.Data,
			Error:         outcome.Error,
			RetryAttempts: retryAttempts,
			StartedAt:     stepStart,
			FinishedAt:    finished,
		}
		cctx.record(result)
		e.recordMetric(step, result)

		if err != nil && ctx.Err() != nil {
			status = StatusCancelled
			cancelled = true
			break loop
		}

		executed[step.ID] = true

		if !outcome.Success && step.Kind != KindErrorHandler {
			status = StatusFailed
			chainErrors = append(chainErrors, ChainError{
				StepID:  step.ID,
				Code:    string(runtimeerr.CodeStepFailed),
				Message: outcome.Error,
			})
			break loop
		}
	}

	if !cancelled {
		switch {
		case status == StatusFailed:
			// already set
		case len(executed) == len(order):
			status = StatusCompleted
		case hasAnySuccess(cctx.StepResults()):
			status = StatusPartiallyDone
		default:
			status = StatusFailed
		}
	}

	if status == StatusFailed && len(chainErrors) > 0 {
		rootSpan.FinishWithError(errors.New(chainErrors[0].Message))
	} else {
		rootSpan.Finish()
	}

	end := time.Now()
	stepResults := cctx.StepResults()
	return &Result{
		ChainID:     c.ID,
		Status:      status,
		Data:        cctx.PreviousResult(),
		StepResults: stepResults,
		Errors:      chainErrors,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Trace:       e.tracer.GetTrace(rootSpan.ID),
	}
}

func hasAnySuccess(results map[string]StepResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

func (e *Engine) recordMetric(step *Step, result StepResult) {
	if e.metrics == nil {
		return
	}
	durationMs := float64(result.FinishedAt.Sub(result.StartedAt).Microseconds()) / 1000.0
	errCode := ""
	if !result.Success {
		errCode = string(runtimeerr.CodeStepFailed)
	}
	e.metrics.RecordExecution(telemetry.ExecutionRecord{
		ToolID:     step.ToolID,
		Success:    result.Success,
		DurationMs: durationMs,
		ErrorCode:  errCode,
		Timestamp:  result.FinishedAt,
	})
}

// executeWithRetry runs step, retrying on failure iff step.IsRetryable,
// waiting 2^attempt seconds between attempts (attempt 2 waits 2s, attempt
// 3 waits 4s, ...), honouring cancellation during the wait. It returns the
// final outcome and retryAttempts = actualAttempts - 1.
func (e *Engine) executeWithRetry(ctx context.Context, cctx *Context, step *Step) (Outcome, int, error) {
	maxAttempts := 1
	if step.IsRetryable {
		maxAttempts = step.MaxRetries + 1
	}

	var outcome Outcome
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Success: false, Error: err.Error()}, attempt - 1, err
		}

		o, err := e.dispatch(ctx, cctx, step)
		if err != nil {
			o = Outcome{Success: false, Error: err.Error()}
		}
		outcome = o
		lastErr = err

		if outcome.Success {
			return outcome, attempt - 1, nil
		}
		if attempt == maxAttempts {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Outcome{Success: false, Error: ctx.Err().Error()}, attempt, ctx.Err()
		}
	}
	return outcome, maxAttempts - 1, lastErr
}

// dispatch runs step exactly once, with no retry, delegating to the
// variant-specific runner for its Kind.
func (e *Engine) dispatch(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	switch step.Kind {
	case KindTool:
		return e.runTool(ctx, cctx, step)
	case KindConditional:
		return e.runConditional(ctx, cctx, step)
	case KindParallel:
		return e.runParallel(ctx, cctx, step)
	case KindTransform:
		return e.runTransform(cctx, step)
	case KindErrorHandler:
		return e.runErrorHandler(ctx, cctx, step)
	case KindCustom:
		return e.runCustom(ctx, cctx, step)
	case KindLoop:
		return Outcome{}, ErrLoopNotImplemented
	default:
		return Outcome{Success: false, Error: "unknown step kind: " + string(step.Kind)}, nil
	}
}

func (e *Engine) runTool(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	if e.executor == nil {
		return Outcome{}, runtimeerr.New(runtimeerr.CodeChainException, "no executor configured")
	}
	req := toolrun.ExecuteRequest{ToolID: step.ToolID, Params: step.Params, Context: cctx.ExecutionContext}
	result, err := e.executor.Execute(ctx, req)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}, nil
	}
	return Outcome{Success: result.Success, Data: result.Data, Error: result.Error}, nil
}

func (e *Engine) runConditional(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	var next *Step
	if step.Predicate != nil && step.Predicate(cctx) {
		next = step.Then
	} else {
		next = step.Else
	}
	if next == nil {
		return Outcome{Success: true}, nil
	}
	outcome, _, err := e.executeWithRetry(ctx, cctx, next)
	return outcome, err
}

func (e *Engine) runParallel(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	n := len(step.Substeps)
	outcomes := make([]Outcome, n)

	wg := backpressure.NewWaitGroup(e.maxParallelism)
	defer wg.Stop()
	for i, sub := range step.Substeps {
		i, sub := i, sub
		if err := wg.Go(func() {
			o, _, err := e.executeWithRetry(ctx, cctx, sub)
			if err != nil && o.Error == "" {
				o.Error = err.Error()
			}
			outcomes[i] = o
		}); err != nil {
			outcomes[i] = Outcome{Success: false, Error: err.Error()}
		}
	}
	wg.Wait()

	results := make([]any, n)
	subMeta := make([]map[string]any, n)
	allSuccess := true
	firstFailure := ""
	for i, o := range outcomes {
		results[i] = o.Data
		subMeta[i] = map[string]any{"success": o.Success, "error": o.Error}
		if !o.Success {
			if allSuccess {
				firstFailure = o.Error
			}
			allSuccess = false
		}
	}

	return Outcome{
		Success:  allSuccess,
		Data:     results,
		Error:    firstFailure,
		Metadata: map[string]any{"substeps": subMeta},
	}, nil
}

func (e *Engine) runTransform(cctx *Context, step *Step) (Outcome, error) {
	if step.TransformFn == nil {
		return Outcome{Success: false, Error: "transform step has no function"}, nil
	}
	data, err := step.TransformFn(cctx.PreviousResult(), cctx)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}, nil
	}
	return Outcome{Success: true, Data: data}, nil
}

func (e *Engine) runErrorHandler(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	if step.Handler == nil {
		return Outcome{Success: true}, nil
	}
	outcome, _, err := e.executeWithRetry(ctx, cctx, step.Handler)
	// ErrorHandler failures never fail the chain: report success regardless
	// of the handler's own outcome, but preserve its data/error for callers
	// inspecting StepResult.
	_ = err
	return Outcome{Success: true, Data: outcome.Data, Error: outcome.Error}, nil
}

func (e *Engine) runCustom(ctx context.Context, cctx *Context, step *Step) (Outcome, error) {
	if step.RunFn == nil {
		return Outcome{Success: false, Error: "custom step has no function"}, nil
	}
	data, err := step.RunFn(ctx, cctx)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}, nil
	}
	return Outcome{Success: true, Data: data}, nil
}
