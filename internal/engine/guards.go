package engine

import (
	"fmt"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
)

// Guard inspects the execution context before each step and returns an error
// to stop the workflow. Guard errors are fatal; they do not route to on_error.
type Guard interface {
	Name() string
	Check(execCtx *execcontext.Context, workflow *ast.Workflow) error
}

// DefaultGuards returns the guards every engine runs with unless overridden:
// the iteration and duration limits.
func DefaultGuards() []Guard {
	return []Guard{
		&IterationGuard{},
		&DurationGuard{},
	}
}

// IterationGuard stops a workflow once it has used up its iteration budget.
// The check runs after the counter is incremented for the upcoming step, so a
// budget of n allows exactly n step executions.
type IterationGuard struct{}

func (g *IterationGuard) Name() string { return "max_iterations" }

func (g *IterationGuard) Check(execCtx *execcontext.Context, workflow *ast.Workflow) error {
	if execCtx.IterationCount() > workflow.MaxIterations {
		return &wferrors.GuardError{
			Guard:  g.Name(),
			Reason: fmt.Sprintf("exceeded maximum iterations (%d)", workflow.MaxIterations),
		}
	}
	return nil
}

// DurationGuard stops a workflow that has run longer than its wall-clock
// budget.
type DurationGuard struct{}

func (g *DurationGuard) Name() string { return "max_duration" }

func (g *DurationGuard) Check(execCtx *execcontext.Context, workflow *ast.Workflow) error {
	limit := ast.DefaultMaxDuration
	if workflow.MaxDuration != nil {
		limit = workflow.MaxDuration.Duration
	}
	elapsed := time.Since(execCtx.StartTime())
	if elapsed >= limit {
		return &wferrors.GuardError{
			Guard:  g.Name(),
			Reason: fmt.Sprintf("exceeded maximum duration (%s elapsed, limit %s)", elapsed.Round(time.Millisecond), limit),
		}
	}
	return nil
}

// MaxErrorGuard stops a workflow once too many steps have failed, counting
// both routed failures and retry exhaustion.
type MaxErrorGuard struct {
	limit int
}

// NewMaxErrorGuard builds a guard that trips when the context error count
// reaches limit.
func NewMaxErrorGuard(limit int) *MaxErrorGuard {
	return &MaxErrorGuard{limit: limit}
}

func (g *MaxErrorGuard) Name() string { return "max_errors" }

func (g *MaxErrorGuard) Check(execCtx *execcontext.Context, workflow *ast.Workflow) error {
	if g.limit > 0 && execCtx.ErrorCount() >= g.limit {
		return &wferrors.GuardError{
			Guard:  g.Name(),
			Reason: fmt.Sprintf("too many failed steps (%d, limit %d)", execCtx.ErrorCount(), g.limit),
		}
	}
	return nil
}

// CircularDependencyGuard stops a workflow that keeps re-executing the same
// step. It trips when the step that just ran appears three or more times in
// the last five history entries. Intentional loops under that rate still pass.
type CircularDependencyGuard struct{}

const (
	circularWindow    = 5
	circularThreshold = 3
)

func (g *CircularDependencyGuard) Name() string { return "circular_dependency" }

func (g *CircularDependencyGuard) Check(execCtx *execcontext.Context, workflow *ast.Workflow) error {
	current := execCtx.CurrentStep()
	if current == "" {
		return nil
	}
	history := execCtx.PreviousSteps()
	if len(history) > circularWindow {
		history = history[len(history)-circularWindow:]
	}
	count := 0
	for _, id := range history {
		if id == current {
			count++
		}
	}
	if count >= circularThreshold {
		return &wferrors.GuardError{
			Guard:  g.Name(),
			Reason: fmt.Sprintf("step %q executed %d times in the last %d steps", current, count, len(history)),
		}
	}
	return nil
}
