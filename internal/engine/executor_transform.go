package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/expression"
	"github.com/weftai/weft/internal/wferrors"
)

// TransformExecutor evaluates transform steps: a pure expression over the
// workflow input and prior successful results. The evaluated value becomes
// the step data.
type TransformExecutor struct {
	evaluator *expression.Evaluator
	emit      emitFunc
}

// NewTransformExecutor creates the executor for transform steps.
func NewTransformExecutor(emit emitFunc) *TransformExecutor {
	if emit == nil {
		emit = noopEmit
	}
	return &TransformExecutor{evaluator: expression.NewEvaluator(), emit: emit}
}

func (e *TransformExecutor) Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult {
	if step.Transform == "" {
		result := execcontext.NewStepFailure(step.ID, &wferrors.MissingFieldError{
			Component: "transform step",
			StepID:    step.ID,
			Field:     "transform",
		})
		stampResult(result, time.Now(), 0)
		return result
	}

	scope := buildExpressionScope(execCtx)
	return executeWithRetry(rc, step, execCtx.RunID(), e.emit, func(ctx context.Context) (interface{}, error) {
		value, err := e.evaluator.Evaluate(step.Transform, scope)
		if err != nil {
			return nil, fmt.Errorf("transform expression %q failed: %w", step.Transform, err)
		}
		return value, nil
	})
}

func (e *TransformExecutor) Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string {
	return defaultRoute(step, result)
}
