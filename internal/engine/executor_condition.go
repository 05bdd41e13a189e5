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

// ConditionExecutor evaluates condition steps and routes on the boolean
// outcome. The decision is stored as step data so routing and later steps
// read the same value.
type ConditionExecutor struct {
	evaluator *expression.Evaluator
	emit      emitFunc
}

// NewConditionExecutor creates the executor for condition steps.
func NewConditionExecutor(emit emitFunc) *ConditionExecutor {
	if emit == nil {
		emit = noopEmit
	}
	return &ConditionExecutor{evaluator: expression.NewEvaluator(), emit: emit}
}

func (e *ConditionExecutor) Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult {
	if step.Condition == "" {
		result := execcontext.NewStepFailure(step.ID, &wferrors.MissingFieldError{
			Component: "condition step",
			StepID:    step.ID,
			Field:     "condition",
		})
		stampResult(result, time.Now(), 0)
		return result
	}

	scope := buildExpressionScope(execCtx)
	return executeWithRetry(rc, step, execCtx.RunID(), e.emit, func(ctx context.Context) (interface{}, error) {
		value, err := e.evaluator.EvaluateBool(step.Condition, scope)
		if err != nil {
			return nil, fmt.Errorf("condition expression %q failed: %w", step.Condition, err)
		}
		return map[string]interface{}{"result": value}, nil
	})
}

// Route sends a successful evaluation to then or else based purely on the
// stored decision; a failed evaluation goes to on_error.
func (e *ConditionExecutor) Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string {
	if !result.Success {
		return step.OnError
	}
	if conditionOutcome(result) {
		return step.Then
	}
	return step.Else
}

func conditionOutcome(result *execcontext.StepResult) bool {
	data, ok := result.Data.(map[string]interface{})
	if !ok {
		return false
	}
	outcome, _ := data["result"].(bool)
	return outcome
}
