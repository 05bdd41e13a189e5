package engine

import (
	"context"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/events"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
)

// ApprovalHandler obtains a human decision for an approval step. The handler
// must observe rc.Context: the step timeout applies to the decision, and an
// expired deadline routes the step to on_error.
type ApprovalHandler interface {
	Decide(rc execcontext.RunContext, step *ast.Step, message string, contextData map[string]interface{}) (bool, error)
}

// AutoApprover answers every approval request with a fixed decision. It is
// the default handler, so non-interactive runs approve and keep moving.
type AutoApprover struct {
	Approved bool
}

func (a AutoApprover) Decide(rc execcontext.RunContext, step *ast.Step, message string, contextData map[string]interface{}) (bool, error) {
	return a.Approved, nil
}

// ApprovalExecutor runs approval steps. Both decisions are successful
// outcomes; only a handler failure or decision timeout produces a failed
// result.
type ApprovalExecutor struct {
	handler ApprovalHandler
	emit    emitFunc
}

// NewApprovalExecutor creates the executor for approval steps. A nil handler
// auto-approves.
func NewApprovalExecutor(handler ApprovalHandler, emit emitFunc) *ApprovalExecutor {
	if handler == nil {
		handler = AutoApprover{Approved: true}
	}
	if emit == nil {
		emit = noopEmit
	}
	return &ApprovalExecutor{handler: handler, emit: emit}
}

func (e *ApprovalExecutor) Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult {
	if step.Message == "" {
		result := execcontext.NewStepFailure(step.ID, &wferrors.MissingFieldError{
			Component: "approval step",
			StepID:    step.ID,
			Field:     "message",
		})
		stampResult(result, time.Now(), 0)
		return result
	}

	runID := execCtx.RunID()
	contextData := execCtx.BuildContextObject()

	return executeWithRetry(rc, step, runID, e.emit, func(ctx context.Context) (interface{}, error) {
		e.emit(events.NewApprovalRequestedEvent(step, runID, step.Message))

		attemptRC := rc
		attemptRC.Context = ctx
		approved, err := e.handler.Decide(attemptRC, step, step.Message, contextData)
		if err != nil {
			return nil, err
		}

		e.emit(events.NewApprovalDecidedEvent(step, runID, approved))
		return map[string]interface{}{
			"approved": approved,
			"message":  step.Message,
		}, nil
	})
}

// Route sends approvals to on_approve and rejections to on_reject; a failed
// decision goes to on_error.
func (e *ApprovalExecutor) Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string {
	if !result.Success {
		return step.OnError
	}
	data, ok := result.Data.(map[string]interface{})
	if ok {
		if approved, _ := data["approved"].(bool); approved {
			return step.OnApprove
		}
	}
	return step.OnReject
}
