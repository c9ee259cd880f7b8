package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolrun/internal/toolrun"
)

// fakeExecutor is a minimal toolrun.Executor stub for engine tests. Each
// tool ID maps to a scripted sequence of outcomes consumed one call at a
// time; the last entry repeats once exhausted.
type fakeExecutor struct {
	mu      sync.Mutex
	scripts map[string][]toolrun.ToolResult
	calls   map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{scripts: make(map[string][]toolrun.ToolResult), calls: make(map[string]int)}
}

func (f *fakeExecutor) script(toolID string, results ...toolrun.ToolResult) {
	f.scripts[toolID] = results
}

func (f *fakeExecutor) callCount(toolID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[toolID]
}

func (f *fakeExecutor) Execute(ctx context.Context, req toolrun.ExecuteRequest) (toolrun.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.ToolID]
	f.calls[req.ToolID] = n + 1
	seq, ok := f.scripts[req.ToolID]
	if !ok || len(seq) == 0 {
		return toolrun.ToolResult{Success: true, Data: req.ToolID}, nil
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (f *fakeExecutor) ExecuteTool(ctx context.Context, toolID string, params map[string]any, ectx *toolrun.ExecutionContext) (toolrun.ToolResult, error) {
	return f.Execute(ctx, toolrun.ExecuteRequest{ToolID: toolID, Params: params})
}
func (f *fakeExecutor) Validate(req toolrun.ExecuteRequest) []string { return nil }
func (f *fakeExecutor) EstimateResources(toolID string, params map[string]any) (*toolrun.ResourceUsage, error) {
	return &toolrun.ResourceUsage{}, nil
}
func (f *fakeExecutor) CancelByCorrelationID(id string) int            { return 0 }
func (f *fakeExecutor) RunningExecutions() []toolrun.RunningExecutionInfo { return nil }
func (f *fakeExecutor) Statistics() toolrun.ExecutionStatistics        { return toolrun.ExecutionStatistics{} }
func (f *fakeExecutor) OnExecutionStarted(fn func(toolrun.ExecutionStartedEvent)) func()     { return func() {} }
func (f *fakeExecutor) OnExecutionCompleted(fn func(toolrun.ExecutionCompletedEvent)) func()  { return func() {} }
func (f *fakeExecutor) OnSecurityViolation(fn func(toolrun.SecurityViolationEvent)) func()    { return func() {} }

func simpleChain(steps ...*Step) *Chain {
	return &Chain{ID: "c1", Name: "test chain", Steps: steps}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	c := &Chain{}
	errs := c.Validate()
	assert.NotEmpty(t, errs)
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	c := simpleChain(&Step{ID: "a", Kind: KindTool, ToolID: "t", Dependencies: []string{"missing"}})
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "missing")
}

func TestValidateRejectsCycle(t *testing.T) {
	c := simpleChain(
		&Step{ID: "a", Kind: KindTool, ToolID: "t", Dependencies: []string{"b"}},
		&Step{ID: "b", Kind: KindTool, ToolID: "t", Dependencies: []string{"a"}},
	)
	errs := c.Validate()
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Message != "" && e.Code == "VALIDATION_ERROR" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateRejectsParallelSubstepWithDependencies(t *testing.T) {
	c := simpleChain(&Step{
		ID: "p", Kind: KindParallel,
		Substeps: []*Step{{ID: "s1", Kind: KindTool, ToolID: "t", Dependencies: []string{"other"}}},
	})
	errs := c.Validate()
	require.NotEmpty(t, errs)
}

func TestTopoOrderRespectsDependenciesAndInsertionTieBreak(t *testing.T) {
	steps := []*Step{
		{ID: "c", Kind: KindTool, Dependencies: []string{"a"}},
		{ID: "a", Kind: KindTool},
		{ID: "b", Kind: KindTool},
	}
	order := topoOrder(steps)
	ids := make([]string, len(order))
	for i, s := range order {
		ids[i] = s.ID
	}
	// a and b are both ready first; a comes first in Steps so it's picked
	// before b, then c becomes ready once a completes.
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEngineExecuteSimpleDAG(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("fetch", toolrun.ToolResult{Success: true, Data: "fetched"})
	exec.script("process", toolrun.ToolResult{Success: true, Data: "processed"})

	c := simpleChain(
		&Step{ID: "fetch", Name: "fetch", Kind: KindTool, ToolID: "fetch"},
		&Step{ID: "process", Name: "process", Kind: KindTool, ToolID: "process", Dependencies: []string{"fetch"}},
	)

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.SuccessfulSteps())
	assert.Equal(t, 0, result.FailedSteps())
	assert.Equal(t, "processed", result.Data)
}

func TestEngineRetrySucceedsAfterFailures(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("flaky",
		toolrun.ToolResult{Success: false, Error: "boom"},
		toolrun.ToolResult{Success: false, Error: "boom"},
		toolrun.ToolResult{Success: true, Data: "ok"},
	)

	c := simpleChain(&Step{ID: "flaky", Name: "flaky", Kind: KindTool, ToolID: "flaky", IsRetryable: true, MaxRetries: 2})

	engine := NewEngine(exec)
	start := time.Now()
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)
	elapsed := time.Since(start)

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.StepResults["flaky"].RetryAttempts)
	assert.GreaterOrEqual(t, elapsed, 6*time.Second)
	assert.Equal(t, 3, exec.callCount("flaky"))
}

func TestEngineRetryExhaustionFailsChain(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("alwaysfails", toolrun.ToolResult{Success: false, Error: "nope"})

	c := simpleChain(&Step{ID: "alwaysfails", Name: "alwaysfails", Kind: KindTool, ToolID: "alwaysfails", IsRetryable: true, MaxRetries: 1})

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, result.StepResults["alwaysfails"].RetryAttempts)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "alwaysfails", result.Errors[0].StepID)
}

func TestEngineCancellationStopsExecution(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("slow", toolrun.ToolResult{Success: false, Error: "boom"})

	c := simpleChain(&Step{ID: "slow", Name: "slow", Kind: KindTool, ToolID: "slow", IsRetryable: true, MaxRetries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	engine := NewEngine(exec)
	result := engine.Execute(ctx, c, nil, toolrun.ExecutionContext{}, nil)

	assert.Equal(t, StatusCancelled, result.Status)
}

func TestEngineParallelFanOutJoins(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("left", toolrun.ToolResult{Success: true, Data: "L"})
	exec.script("right", toolrun.ToolResult{Success: true, Data: "R"})

	c := simpleChain(&Step{
		ID: "fanout", Name: "fanout", Kind: KindParallel,
		Substeps: []*Step{
			{ID: "left", Kind: KindTool, ToolID: "left"},
			{ID: "right", Kind: KindTool, ToolID: "right"},
		},
	})

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusCompleted, result.Status)
	data, ok := result.Data.([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"L", "R"}, data)
}

func TestEngineParallelFanOutReportsFirstFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("ok", toolrun.ToolResult{Success: true, Data: "fine"})
	exec.script("bad", toolrun.ToolResult{Success: false, Error: "broke"})

	c := simpleChain(&Step{
		ID: "fanout", Name: "fanout", Kind: KindParallel,
		Substeps: []*Step{
			{ID: "ok", Kind: KindTool, ToolID: "ok"},
			{ID: "bad", Kind: KindTool, ToolID: "bad"},
		},
	})

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	assert.Equal(t, StatusFailed, result.Status)
}

func TestEngineConditionalBranching(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("then-branch", toolrun.ToolResult{Success: true, Data: "then"})
	exec.script("else-branch", toolrun.ToolResult{Success: true, Data: "else"})

	c := simpleChain(&Step{
		ID: "branch", Name: "branch", Kind: KindConditional,
		Predicate: func(cctx *Context) bool { return false },
		Then:      &Step{ID: "then-branch", Kind: KindTool, ToolID: "then-branch"},
		Else:      &Step{ID: "else-branch", Kind: KindTool, ToolID: "else-branch"},
	})

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "else", result.Data)
}

func TestEngineTransformStep(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("source", toolrun.ToolResult{Success: true, Data: 10})

	c := simpleChain(
		&Step{ID: "source", Kind: KindTool, ToolID: "source"},
		&Step{ID: "double", Kind: KindTransform, Dependencies: []string{"source"}, TransformFn: func(previous any, cctx *Context) (any, error) {
			n, _ := previous.(int)
			return n * 2, nil
		}},
	)

	engine := NewEngine(exec)
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 20, result.Data)
}

func TestEngineErrorHandlerNeverFailsChain(t *testing.T) {
	var handlerRan atomic.Bool
	c := simpleChain(&Step{
		ID: "guard", Name: "guard", Kind: KindErrorHandler,
		Handler: &Step{ID: "handler", Kind: KindCustom, RunFn: func(ctx context.Context, cctx *Context) (any, error) {
			handlerRan.Store(true)
			return nil, errors.New("handler itself failed")
		}},
	})

	engine := NewEngine(newFakeExecutor())
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	assert.True(t, handlerRan.Load())
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestEngineLoopStepNotImplemented(t *testing.T) {
	c := simpleChain(&Step{ID: "loop", Kind: KindLoop})
	engine := NewEngine(newFakeExecutor())
	result := engine.Execute(context.Background(), c, nil, toolrun.ExecutionContext{}, nil)

	require.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "Loop")
}
