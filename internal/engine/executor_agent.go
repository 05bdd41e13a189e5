package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/events"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/session"
	"github.com/weftai/weft/internal/utils"
	"github.com/weftai/weft/internal/wferrors"
)

// AgentRunner is the slice of the session client the agent executor needs.
type AgentRunner interface {
	Run(ctx context.Context, req session.Request) (*session.Result, error)
}

// AgentExecutor runs agent steps through the session service. Each attempt is
// a full session lifecycle; the retry contract wraps the whole lifecycle, so
// a timed-out attempt still deletes its session before the next one starts.
type AgentExecutor struct {
	runner AgentRunner
	emit   emitFunc
}

// NewAgentExecutor creates the executor for agent steps.
func NewAgentExecutor(runner AgentRunner, emit emitFunc) *AgentExecutor {
	if emit == nil {
		emit = noopEmit
	}
	return &AgentExecutor{runner: runner, emit: emit}
}

func (e *AgentExecutor) Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult {
	if step.Agent == "" {
		result := execcontext.NewStepFailure(step.ID, &wferrors.MissingFieldError{
			Component: "agent step",
			StepID:    step.ID,
			Field:     "agent",
		})
		stampResult(result, time.Now(), 0)
		return result
	}

	runID := execCtx.RunID()
	input := buildAgentInput(step, execCtx)
	title := utils.GenerateSessionTitle(execCtx.WorkflowID(), step.ID)

	inputKeys := make([]string, 0, len(input))
	for key := range input {
		inputKeys = append(inputKeys, key)
	}
	sort.Strings(inputKeys)

	return executeWithRetry(rc, step, runID, e.emit, func(ctx context.Context) (interface{}, error) {
		res, err := e.runner.Run(ctx, session.Request{
			Title: title,
			Agent: step.Agent,
			Input: input,
			OnPoll: func(attempt int) {
				e.emit(events.NewAgentPollingEvent(step.ID, step.Agent, runID))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("step %q (agent %q, input keys: %s): %w",
				step.ID, step.Agent, strings.Join(inputKeys, ", "), err)
		}
		if res.Failed() {
			return nil, &wferrors.AgentError{Agent: step.Agent, Message: res.Error}
		}
		return res.Data, nil
	})
}

func (e *AgentExecutor) Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string {
	return defaultRoute(step, result)
}
