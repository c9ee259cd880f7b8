// Package chain implements the Step Kinds and Chain Engine: a DAG
// scheduler executing a typed graph of tool calls, conditionals, parallel
// fan-outs, transforms, and error handlers with dependency ordering and
// retry.
package chain

import (
	"context"
	"errors"
)

// Kind tags which variant of the step sum type a Step is. The engine
// dispatches on Kind; ErrorHandler is the one kind exempted from the
// fail-chain policy.
type Kind string

const (
	KindTool         Kind = "Tool"
	KindConditional  Kind = "Conditional"
	KindParallel     Kind = "Parallel"
	KindTransform    Kind = "Transform"
	KindLoop         Kind = "Loop"
	KindErrorHandler Kind = "ErrorHandler"
	KindCustom       Kind = "Custom"
)

// ErrLoopNotImplemented is what the engine's step dispatch reports for a
// Loop step. Loop is
// reserved in the sum type for future extension; it has no implementation.
var ErrLoopNotImplemented = errors.New("chain: Loop step kind is not implemented")

// Outcome is the result of running one step, independent of retry
// bookkeeping (which the engine tracks separately).
type Outcome struct {
	Success  bool
	Data     any
	Error    string
	Metadata map[string]any
}

// Step is one node in a Chain. It is a flat, tagged-union value: the
// fields populated depend on Kind. Every step carries identity and retry
// policy regardless of kind.
type Step struct {
	ID           string
	Name         string
	Kind         Kind
	Dependencies []string
	IsRetryable  bool
	MaxRetries   int

	// Tool
	ToolID string
	Params map[string]any

	// Conditional
	Predicate func(*Context) bool
	Then      *Step
	Else      *Step

	// Parallel — substeps MUST declare no Dependencies of their own; a
	// substep with its own dependency graph belongs in a separate Tool
	// step feeding this one instead.
	Substeps []*Step

	// Transform
	TransformFn func(previous any, cctx *Context) (any, error)

	// ErrorHandler — runs even after failures; its own failure never fails
	// the chain.
	Handler *Step

	// Custom
	RunFn func(ctx context.Context, cctx *Context) (any, error)
}
