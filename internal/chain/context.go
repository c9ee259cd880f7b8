package chain

import (
	"sync"
	"time"

	"toolrun/internal/toolrun"
)

// Status is the lifecycle state of a chain execution.
type Status string

const (
	StatusNotStarted    Status = "NotStarted"
	StatusRunning       Status = "Running"
	StatusCompleted     Status = "Completed"
	StatusFailed        Status = "Failed"
	StatusCancelled     Status = "Cancelled"
	StatusPartiallyDone Status = "PartiallyCompleted"
)

// StepResult is the append-only record of one step's execution.
type StepResult struct {
	StepID        string
	Success       bool
	Data          any
	Error         string
	RetryAttempts int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// ProgressEvent is reported at step start and may be reported from inside
// a step via Context.ReportProgress.
type ProgressEvent struct {
	ChainID    string
	StepID     string
	Message    string
	Percentage float64
	Timestamp  time.Time
}

// Context is the per-execution, mutable Chain Context. StepResults is
// append-only during execution; the most recently inserted value is the
// "previous result" transforms observe.
type Context struct {
	Chain            *Chain
	CurrentStep      string
	InitialParams    map[string]any
	SharedState      map[string]any
	ExecutionContext toolrun.ExecutionContext
	StartTime        time.Time
	Status           Status
	onProgress       func(ProgressEvent)

	mu          sync.Mutex
	stepResults map[string]StepResult
	order       []string
}

func newContext(c *Chain, initialParams map[string]any, ectx toolrun.ExecutionContext, onProgress func(ProgressEvent)) *Context {
	return &Context{
		Chain:            c,
		InitialParams:    initialParams,
		SharedState:      make(map[string]any),
		ExecutionContext: ectx,
		StartTime:        time.Now(),
		Status:           StatusRunning,
		onProgress:       onProgress,
		stepResults:      make(map[string]StepResult),
	}
}

func (c *Context) record(result StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepResults[result.StepID] = result
	c.order = append(c.order, result.StepID)
}

// StepResults returns a snapshot of every recorded step result.
func (c *Context) StepResults() map[string]StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]StepResult, len(c.stepResults))
	for k, v := range c.stepResults {
		out[k] = v
	}
	return out
}

// PreviousResult returns the Data of the most recently recorded step
// result, or nil if none has been recorded yet.
func (c *Context) PreviousResult() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return nil
	}
	return c.stepResults[c.order[len(c.order)-1]].Data
}

// ReportProgress lets a running step (a Custom or Transform function)
// emit its own progress event in addition to the one the engine reports
// at step start.
func (c *Context) ReportProgress(message string, percentage float64) {
	if c.onProgress == nil {
		return
	}
	chainID := ""
	if c.Chain != nil {
		chainID = c.Chain.ID
	}
	c.onProgress(ProgressEvent{
		ChainID:    chainID,
		StepID:     c.CurrentStep,
		Message:    message,
		Percentage: percentage,
		Timestamp:  time.Now(),
	})
}
