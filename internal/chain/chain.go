package chain

import (
	"fmt"
	"sort"
	"strings"

	"toolrun/internal/runtimeerr"
)

// Chain is an ordered sequence of steps plus identity. The sequence order
// is informational; true execution order derives from Dependencies.
type Chain struct {
	ID          string
	Name        string
	Description string
	Steps       []*Step
}

// ValidationError is one issue found by Validate.
type ValidationError struct {
	StepID  string
	Code    runtimeerr.Code
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// Validate checks chain id/name, step count, dependency references, the
// Parallel-substep-has-no-own-dependencies rule, and cycles. It is
// idempotent and side-effect free.
func (c *Chain) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, ValidationError{Code: runtimeerr.CodeValidation, Message: "chain id is required"})
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ValidationError{Code: runtimeerr.CodeValidation, Message: "chain name is required"})
	}
	if len(c.Steps) == 0 {
		errs = append(errs, ValidationError{Code: runtimeerr.CodeValidation, Message: "chain must have at least one step"})
		return errs
	}

	byID := make(map[string]*Step, len(c.Steps))
	for _, s := range c.Steps {
		byID[s.ID] = s
	}

	for _, s := range c.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				errs = append(errs, ValidationError{
					StepID:  s.ID,
					Code:    runtimeerr.CodeValidation,
					Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep),
				})
			}
		}
		if s.Kind == KindParallel {
			for _, sub := range s.Substeps {
				if len(sub.Dependencies) > 0 {
					errs = append(errs, ValidationError{
						StepID:  sub.ID,
						Code:    runtimeerr.CodeValidation,
						Message: fmt.Sprintf("substep %q of Parallel step %q must declare no dependencies of its own", sub.ID, s.ID),
					})
				}
			}
		}
	}

	if cycle := findCycle(c.Steps); cycle != "" {
		errs = append(errs, ValidationError{
			Code:    runtimeerr.CodeValidation,
			Message: "Circular dependency detected: " + cycle,
		})
	}

	return errs
}

// color states for cycle detection DFS.
const (
	white = 0
	gray  = 1
	black = 2
)

func findCycle(steps []*Step) string {
	byID := make(map[string]*Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	color := make(map[string]int, len(steps))
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		step, ok := byID[id]
		if ok {
			for _, dep := range step.Dependencies {
				switch color[dep] {
				case white:
					if cyc := visit(dep); cyc != "" {
						return cyc
					}
				case gray:
					return strings.Join(append(path, dep), " -> ")
				}
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if cyc := visit(s.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// topoOrder computes execution order: a topological sort of Dependencies
// where, within a topological layer, the step's original position in
// Steps is the tie-breaker. Assumes Validate has already rejected cycles.
func topoOrder(steps []*Step) []*Step {
	index := make(map[string]int, len(steps))
	byID := make(map[string]*Step, len(steps))
	for i, s := range steps {
		index[s.ID] = i
		byID[s.ID] = s
	}

	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		inDegree[s.ID] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	order := make([]*Step, 0, len(steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		var next []string
		for _, id := range ready {
			order = append(order, byID[id])
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}
	return order
}
