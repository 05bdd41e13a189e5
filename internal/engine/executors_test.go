package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/session"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

// executorContext builds an isolated context for executor unit tests, with
// prior results recorded in argument order.
func executorContext(input map[string]interface{}, prior ...*execcontext.StepResult) *execcontext.Context {
	workflow := &ast.Workflow{
		ID:    "wf_exec",
		Steps: []*ast.Step{{ID: "seed", Type: ast.StepTransform, Transform: "true"}},
	}
	execCtx := execcontext.NewContext(testRC(), workflow, input)
	for _, result := range prior {
		execCtx = execCtx.AddResult(result.StepID, result)
	}
	return execCtx
}

func successResult(stepID string, data interface{}) *execcontext.StepResult {
	return execcontext.NewStepResult(stepID, data)
}

func TestTransformExecutor_Execute(t *testing.T) {
	executor := NewTransformExecutor(nil)

	t.Run("evaluates over input and prior results", func(t *testing.T) {
		execCtx := executorContext(
			map[string]interface{}{"factor": float64(3)},
			successResult("count", map[string]interface{}{"value": float64(7)}),
		)
		step := noRetry(&ast.Step{ID: "calc", Type: ast.StepTransform, Transform: "count.value * input.factor"})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		assert.Equal(t, float64(21), result.Data)
		assert.Equal(t, 0, result.Retries)
	})

	t.Run("object literal builds a document", func(t *testing.T) {
		execCtx := executorContext(
			map[string]interface{}{"topic": "ducks"},
			successResult("research", map[string]interface{}{"summary": "quack"}),
		)
		step := noRetry(&ast.Step{
			ID:        "shape",
			Type:      ast.StepTransform,
			Transform: `{topic: input.topic, body: research.summary, done: true}`,
		})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		data, ok := result.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "ducks", data["topic"])
		assert.Equal(t, "quack", data["body"])
		assert.Equal(t, true, data["done"])
	})

	t.Run("missing expression fails without an attempt", func(t *testing.T) {
		step := &ast.Step{ID: "empty", Type: ast.StepTransform}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		require.NotNil(t, result.Error)
		assert.Equal(t, "missing_field", result.Error.Kind)
		assert.Contains(t, result.Error.Message, `"transform"`)
	})

	t.Run("unknown variable names the expression", func(t *testing.T) {
		step := noRetry(&ast.Step{ID: "bad", Type: ast.StepTransform, Transform: "nobody.home"})

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		require.NotNil(t, result.Error)
		assert.Contains(t, result.Error.Message, `transform expression "nobody.home" failed`)
		assert.Contains(t, result.Error.Message, "undefined variable")
	})

	t.Run("routes next on success and on_error on failure", func(t *testing.T) {
		step := &ast.Step{ID: "t", Type: ast.StepTransform, Next: "forward", OnError: "rescue"}
		execCtx := executorContext(nil)

		assert.Equal(t, "forward", executor.Route(step, successResult("t", nil), execCtx))
		assert.Equal(t, "rescue", executor.Route(step, execcontext.NewStepFailure("t", errors.New("boom")), execCtx))
	})
}

func TestConditionExecutor_Execute(t *testing.T) {
	executor := NewConditionExecutor(nil)

	t.Run("true decision routes to then", func(t *testing.T) {
		execCtx := executorContext(nil, successResult("score", map[string]interface{}{"value": float64(9)}))
		step := noRetry(&ast.Step{
			ID:        "gate",
			Type:      ast.StepCondition,
			Condition: "score.value >= 5",
			Then:      "ship",
			Else:      "rework",
		})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"result": true}, result.Data)
		assert.Equal(t, "ship", executor.Route(step, result, execCtx))
	})

	t.Run("false decision routes to else", func(t *testing.T) {
		execCtx := executorContext(nil, successResult("score", map[string]interface{}{"value": float64(2)}))
		step := noRetry(&ast.Step{
			ID:        "gate",
			Type:      ast.StepCondition,
			Condition: "score.value >= 5",
			Then:      "ship",
			Else:      "rework",
		})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"result": false}, result.Data)
		assert.Equal(t, "rework", executor.Route(step, result, execCtx))
	})

	t.Run("evaluation failure routes to on_error", func(t *testing.T) {
		step := noRetry(&ast.Step{
			ID:        "gate",
			Type:      ast.StepCondition,
			Condition: "ghost.value > 0",
			Then:      "ship",
			Else:      "rework",
			OnError:   "rescue",
		})
		execCtx := executorContext(nil)

		result := executor.Execute(testRC(), step, execCtx)

		require.False(t, result.Success)
		assert.Contains(t, result.Error.Message, "condition expression")
		assert.Equal(t, "rescue", executor.Route(step, result, execCtx))
	})

	t.Run("missing condition fails", func(t *testing.T) {
		step := &ast.Step{ID: "gate", Type: ast.StepCondition, Then: "ship"}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "missing_field", result.Error.Kind)
		assert.Contains(t, result.Error.Message, `"condition"`)
	})
}

// blockingApprover ignores the decision context on purpose, forcing the
// attempt deadline to cut it off.
type blockingApprover struct{ hold time.Duration }

func (b blockingApprover) Decide(rc execcontext.RunContext, step *ast.Step, message string, contextData map[string]interface{}) (bool, error) {
	time.Sleep(b.hold)
	return true, nil
}

type failingApprover struct{ err error }

func (f failingApprover) Decide(rc execcontext.RunContext, step *ast.Step, message string, contextData map[string]interface{}) (bool, error) {
	return false, f.err
}

func TestApprovalExecutor_Execute(t *testing.T) {
	approvalStep := func() *ast.Step {
		return noRetry(&ast.Step{
			ID:        "gate",
			Type:      ast.StepApproval,
			Message:   "Publish the report?",
			OnApprove: "publish",
			OnReject:  "archive",
			OnError:   "rescue",
		})
	}

	t.Run("approval records the decision and routes to on_approve", func(t *testing.T) {
		recorder := &emitRecorder{}
		executor := NewApprovalExecutor(AutoApprover{Approved: true}, recorder.emit)
		step := approvalStep()
		execCtx := executorContext(nil)

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{
			"approved": true,
			"message":  "Publish the report?",
		}, result.Data)
		assert.Equal(t, "publish", executor.Route(step, result, execCtx))

		types := make(map[pkgEvents.ExecutionEventType]int)
		for _, event := range recorder.all() {
			types[event.Type]++
		}
		assert.Equal(t, 1, types[pkgEvents.EventApprovalRequested])
		assert.Equal(t, 1, types[pkgEvents.EventApprovalDecided])
	})

	t.Run("rejection is a successful result routed to on_reject", func(t *testing.T) {
		executor := NewApprovalExecutor(AutoApprover{Approved: false}, nil)
		step := approvalStep()
		execCtx := executorContext(nil)

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		data := result.Data.(map[string]interface{})
		assert.Equal(t, false, data["approved"])
		assert.Equal(t, "archive", executor.Route(step, result, execCtx))
	})

	t.Run("handler failure routes to on_error", func(t *testing.T) {
		executor := NewApprovalExecutor(failingApprover{err: errors.New("approval channel down")}, nil)
		step := approvalStep()
		execCtx := executorContext(nil)

		result := executor.Execute(testRC(), step, execCtx)

		require.False(t, result.Success)
		assert.Contains(t, result.Error.Message, "approval channel down")
		assert.Equal(t, "rescue", executor.Route(step, result, execCtx))
	})

	t.Run("decision deadline fails the step", func(t *testing.T) {
		executor := NewApprovalExecutor(blockingApprover{hold: 150 * time.Millisecond}, nil)
		step := approvalStep()
		step.Timeout = &ast.Millis{Duration: 10 * time.Millisecond}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "timeout", result.Error.Kind)
	})

	t.Run("missing message fails", func(t *testing.T) {
		executor := NewApprovalExecutor(nil, nil)
		step := &ast.Step{ID: "gate", Type: ast.StepApproval}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "missing_field", result.Error.Kind)
		assert.Contains(t, result.Error.Message, `"message"`)
	})

	t.Run("nil handler auto-approves", func(t *testing.T) {
		executor := NewApprovalExecutor(nil, nil)
		step := approvalStep()

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.True(t, result.Success)
		assert.Equal(t, true, result.Data.(map[string]interface{})["approved"])
	})
}

func TestAgentExecutor_Execute(t *testing.T) {
	t.Run("delivers input document and returns session data", func(t *testing.T) {
		runner := newFakeAgentRunner()
		runner.respond("writer", map[string]interface{}{"draft": "once upon a time"})
		executor := NewAgentExecutor(runner, nil)

		execCtx := executorContext(
			map[string]interface{}{"topic": "geese"},
			successResult("outline", map[string]interface{}{"sections": float64(3)}),
			successResult("notes", map[string]interface{}{"tone": "light"}),
		)
		step := noRetry(&ast.Step{ID: "write", Type: ast.StepAgent, Agent: "writer"})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"draft": "once upon a time"}, result.Data)

		requests := runner.recorded()
		require.Len(t, requests, 1)
		req := requests[0]
		assert.Equal(t, "writer", req.Agent)
		assert.True(t, strings.HasPrefix(req.Title, "weft/wf_exec/write/"))

		assert.Equal(t, map[string]interface{}{"topic": "geese"}, req.Input["input"])
		contextObj := req.Input["context"].(map[string]interface{})
		assert.Contains(t, contextObj, "outline")
		assert.Contains(t, contextObj, "notes")

		// No explicit input reference, so the most recent step is highlighted.
		assert.Equal(t, map[string]interface{}{"tone": "light"}, req.Input["notes"])
		assert.NotContains(t, req.Input, "outline")
	})

	t.Run("explicit input reference overrides recency", func(t *testing.T) {
		runner := newFakeAgentRunner()
		executor := NewAgentExecutor(runner, nil)

		execCtx := executorContext(
			nil,
			successResult("outline", map[string]interface{}{"sections": float64(3)}),
			successResult("notes", map[string]interface{}{"tone": "light"}),
		)
		step := noRetry(&ast.Step{ID: "write", Type: ast.StepAgent, Agent: "writer", Input: "outline"})

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		req := runner.recorded()[0]
		assert.Equal(t, map[string]interface{}{"sections": float64(3)}, req.Input["outline"])
		assert.NotContains(t, req.Input, "notes")
	})

	t.Run("agent-reported failure becomes an agent error", func(t *testing.T) {
		runner := newFakeAgentRunner()
		runner.failAgent("writer", "ran out of ink")
		executor := NewAgentExecutor(runner, nil)
		step := noRetry(&ast.Step{ID: "write", Type: ast.StepAgent, Agent: "writer"})

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "agent", result.Error.Kind)
		assert.Contains(t, result.Error.Message, `agent "writer" failed: ran out of ink`)
	})

	t.Run("transport failure names the step and input keys", func(t *testing.T) {
		runner := newFakeAgentRunner()
		runner.failTransport("writer", errors.New("connection refused"))
		executor := NewAgentExecutor(runner, nil)
		step := noRetry(&ast.Step{ID: "write", Type: ast.StepAgent, Agent: "writer"})

		result := executor.Execute(testRC(), step, executorContext(map[string]interface{}{"topic": "x"}))

		require.False(t, result.Success)
		assert.Contains(t, result.Error.Message, `step "write"`)
		assert.Contains(t, result.Error.Message, `agent "writer"`)
		assert.Contains(t, result.Error.Message, "context, input")
		assert.Contains(t, result.Error.Message, "connection refused")
	})

	t.Run("missing agent fails", func(t *testing.T) {
		executor := NewAgentExecutor(newFakeAgentRunner(), nil)
		step := &ast.Step{ID: "write", Type: ast.StepAgent}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "missing_field", result.Error.Kind)
	})

	t.Run("poll callback emits progress events", func(t *testing.T) {
		recorder := &emitRecorder{}
		runner := newFakeAgentRunner()
		runner.handlers["writer"] = func(req session.Request) (*session.Result, error) {
			req.OnPoll(1)
			req.OnPoll(2)
			return &session.Result{Data: map[string]interface{}{"ok": true}}, nil
		}
		executor := NewAgentExecutor(runner, recorder.emit)
		step := noRetry(&ast.Step{ID: "write", Type: ast.StepAgent, Agent: "writer"})

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.True(t, result.Success)
		polls := 0
		for _, event := range recorder.all() {
			if event.Type == pkgEvents.EventStepProgress {
				polls++
				assert.Equal(t, "write", event.StepID)
			}
		}
		assert.Equal(t, 2, polls)
	})
}

func TestParallelExecutor_Execute(t *testing.T) {
	// A registry with the transform executor is enough for most group tests.
	transformOnly := func(emit emitFunc) *Registry {
		registry := NewRegistry()
		registry.Register(ast.StepTransform, NewTransformExecutor(emit))
		return registry
	}

	childTransform := func(id, expr string) *ast.Step {
		return noRetry(&ast.Step{ID: id, Type: ast.StepTransform, Transform: expr})
	}

	t.Run("all children succeed", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		step := &ast.Step{
			ID:   "fan",
			Type: ast.StepParallel,
			Steps: []*ast.Step{
				childTransform("left", `{side: "left"}`),
				childTransform("right", `{side: "right"}`),
			},
		}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.True(t, result.Success)
		data := result.Data.(map[string]interface{})
		require.Len(t, data, 2)

		left := data["left"].(map[string]interface{})
		assert.Equal(t, true, left["success"])
		assert.Equal(t, map[string]interface{}{"side": "left"}, left["data"])
		right := data["right"].(map[string]interface{})
		assert.Equal(t, true, right["success"])
	})

	t.Run("partial success above threshold", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		step := &ast.Step{
			ID:         "fan",
			Type:       ast.StepParallel,
			MinSuccess: intPtr(1),
			Steps: []*ast.Step{
				childTransform("good", "1 + 1"),
				childTransform("bad", "ghost.value"),
			},
		}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.True(t, result.Success)
		data := result.Data.(map[string]interface{})
		assert.Equal(t, true, data["good"].(map[string]interface{})["success"])
		badEntry := data["bad"].(map[string]interface{})
		assert.Equal(t, false, badEntry["success"])
		assert.Contains(t, badEntry["error"].(string), "undefined variable")
	})

	t.Run("below threshold fails but keeps child data", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		step := &ast.Step{
			ID:   "fan",
			Type: ast.StepParallel,
			Steps: []*ast.Step{
				childTransform("good", "1 + 1"),
				childTransform("bad", "ghost.value"),
			},
		}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Contains(t, result.Error.Message, "1 of 2 children succeeded, need 2")

		data, ok := result.Data.(map[string]interface{})
		require.True(t, ok, "a failed group still carries every child result")
		assert.Len(t, data, 2)
	})

	t.Run("empty group fails", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		step := &ast.Step{ID: "fan", Type: ast.StepParallel}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Equal(t, "missing_field", result.Error.Kind)
	})

	t.Run("unregistered child kind fails that child only", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		step := &ast.Step{
			ID:         "fan",
			Type:       ast.StepParallel,
			MinSuccess: intPtr(1),
			Steps: []*ast.Step{
				childTransform("good", "true"),
				noRetry(&ast.Step{ID: "agentless", Type: ast.StepAgent, Agent: "writer"}),
			},
		}

		result := executor.Execute(testRC(), step, executorContext(nil))

		require.True(t, result.Success)
		data := result.Data.(map[string]interface{})
		agentless := data["agentless"].(map[string]interface{})
		assert.Equal(t, false, agentless["success"])
		assert.Contains(t, agentless["error"].(string), "executor for step kind")
	})

	t.Run("children see the parent snapshot, not each other", func(t *testing.T) {
		executor := NewParallelExecutor(transformOnly(nil), nil)
		execCtx := executorContext(nil, successResult("before", map[string]interface{}{"v": float64(1)}))
		step := &ast.Step{
			ID:         "fan",
			Type:       ast.StepParallel,
			MinSuccess: intPtr(1),
			Steps: []*ast.Step{
				childTransform("reads_parent", "before.v + 1"),
				childTransform("reads_sibling", "reads_parent"),
			},
		}

		result := executor.Execute(testRC(), step, execCtx)

		require.True(t, result.Success)
		data := result.Data.(map[string]interface{})

		parentRead := data["reads_parent"].(map[string]interface{})
		assert.Equal(t, true, parentRead["success"])
		assert.Equal(t, float64(2), parentRead["data"])

		siblingRead := data["reads_sibling"].(map[string]interface{})
		assert.Equal(t, false, siblingRead["success"])
		assert.Contains(t, siblingRead["error"].(string), "undefined variable")
	})

	t.Run("emits child lifecycle events", func(t *testing.T) {
		recorder := &emitRecorder{}
		executor := NewParallelExecutor(transformOnly(recorder.emit), recorder.emit)
		step := &ast.Step{
			ID:         "fan",
			Type:       ast.StepParallel,
			MinSuccess: intPtr(0),
			Steps: []*ast.Step{
				childTransform("good", "true"),
				childTransform("bad", "ghost"),
			},
		}

		result := executor.Execute(testRC(), step, executorContext(nil))
		require.NotNil(t, result)

		types := make(map[pkgEvents.ExecutionEventType]int)
		for _, event := range recorder.all() {
			types[event.Type]++
		}
		assert.Equal(t, 2, types[pkgEvents.EventStepStarted])
		assert.Equal(t, 1, types[pkgEvents.EventStepCompleted])
		assert.Equal(t, 1, types[pkgEvents.EventStepFailed])
	})

	t.Run("group timeout cuts slow children", func(t *testing.T) {
		runner := newFakeAgentRunner()
		runner.delay = 200 * time.Millisecond
		registry := NewRegistry()
		registry.Register(ast.StepAgent, NewAgentExecutor(runner, nil))
		executor := NewParallelExecutor(registry, nil)

		step := &ast.Step{
			ID:      "fan",
			Type:    ast.StepParallel,
			Timeout: &ast.Millis{Duration: 20 * time.Millisecond},
			Steps: []*ast.Step{
				noRetry(&ast.Step{ID: "slow", Type: ast.StepAgent, Agent: "writer"}),
			},
		}

		start := time.Now()
		result := executor.Execute(testRC(), step, executorContext(nil))

		require.False(t, result.Success)
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestDefaultRoute(t *testing.T) {
	step := &ast.Step{ID: "s", Next: "onward", OnError: "rescue"}

	assert.Equal(t, "onward", defaultRoute(step, successResult("s", nil)))
	assert.Equal(t, "rescue", defaultRoute(step, execcontext.NewStepFailure("s", errors.New("boom"))))

	bare := &ast.Step{ID: "s"}
	assert.Equal(t, "", defaultRoute(bare, successResult("s", nil)))
	assert.Equal(t, "", defaultRoute(bare, execcontext.NewStepFailure("s", errors.New("boom"))))
}

func TestBuildExpressionScope(t *testing.T) {
	execCtx := executorContext(
		map[string]interface{}{"topic": "owls"},
		successResult("a", map[string]interface{}{"x": float64(1)}),
	)
	failed := execcontext.NewStepFailure("b", errors.New("boom"))
	execCtx = execCtx.AddResult("b", failed)

	scope := buildExpressionScope(execCtx)

	assert.Equal(t, map[string]interface{}{"topic": "owls"}, scope["input"])
	assert.Contains(t, scope, "a")
	assert.NotContains(t, scope, "b", "failed steps contribute no data")
}
