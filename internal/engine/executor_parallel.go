package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/events"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
)

// ParallelExecutor fans a group's children out concurrently. Children share
// the parent context as a read-only snapshot, which immutability gives us for
// free; their results become one composite entry under the group's id, so
// child data reaches later steps only through the parent result.
//
// The group does not use the shared retry wrapper: its data must carry every
// child result even when the group fails, and the children already apply
// their own retry and timeout budgets. A group-level timeout applies only
// when the step sets timeout_ms explicitly.
type ParallelExecutor struct {
	registry *Registry
	emit     emitFunc
}

// NewParallelExecutor creates the executor for parallel steps. Children are
// dispatched through the given registry, so a group can hold any step kind.
func NewParallelExecutor(registry *Registry, emit emitFunc) *ParallelExecutor {
	if emit == nil {
		emit = noopEmit
	}
	return &ParallelExecutor{registry: registry, emit: emit}
}

func (e *ParallelExecutor) Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult {
	start := time.Now()

	if len(step.Steps) == 0 {
		result := execcontext.NewStepFailure(step.ID, &wferrors.MissingFieldError{
			Component: "parallel step",
			StepID:    step.ID,
			Field:     "steps",
		})
		stampResult(result, start, 0)
		return result
	}

	groupRC := rc
	if step.Timeout != nil && step.Timeout.Duration > 0 {
		groupCtx, cancel := context.WithTimeout(rc.Context, step.Timeout.Duration)
		defer cancel()
		groupRC.Context = groupCtx
	}

	// A failing child never cancels its siblings; every child settles before
	// the group result is assembled.
	results := make([]*execcontext.StepResult, len(step.Steps))
	var wg sync.WaitGroup
	for i, child := range step.Steps {
		wg.Add(1)
		go func(i int, child *ast.Step) {
			defer wg.Done()
			results[i] = e.executeChild(groupRC, child, execCtx)
		}(i, child)
	}
	wg.Wait()

	successCount := 0
	data := make(map[string]interface{}, len(results))
	for _, childResult := range results {
		if childResult.Success {
			successCount++
		}
		data[childResult.StepID] = childResult.AsMap()
	}

	minSuccess := step.GetMinSuccess()
	var result *execcontext.StepResult
	if successCount >= minSuccess {
		result = execcontext.NewStepResult(step.ID, data)
	} else {
		result = execcontext.NewStepFailure(step.ID, fmt.Errorf(
			"parallel group %q: %d of %d children succeeded, need %d",
			step.ID, successCount, len(results), minSuccess))
		result.Data = data
	}
	stampResult(result, start, 0)
	return result
}

func (e *ParallelExecutor) executeChild(rc execcontext.RunContext, child *ast.Step, snapshot *execcontext.Context) *execcontext.StepResult {
	runID := snapshot.RunID()
	iteration := snapshot.IterationCount()

	executor, err := e.registry.Get(child.Type)
	if err != nil {
		result := execcontext.NewStepFailure(child.ID, err)
		stampResult(result, time.Now(), 0)
		return result
	}

	e.emit(events.NewStepStartedEvent(child, runID, iteration))
	result := executor.Execute(rc, child, snapshot)
	if result.Success {
		e.emit(events.NewStepCompletedEvent(child, runID, iteration, result.Duration.Duration))
	} else {
		msg := ""
		if result.Error != nil {
			msg = result.Error.Message
		}
		e.emit(events.NewStepFailedEvent(child, runID, iteration, result.Duration.Duration, msg))
	}
	return result
}

func (e *ParallelExecutor) Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string {
	return defaultRoute(step, result)
}
