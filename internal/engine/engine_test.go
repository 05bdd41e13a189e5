package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/session"
	_ "github.com/weftai/weft/internal/testhelper"
	"github.com/weftai/weft/internal/wferrors"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

func testRC() execcontext.RunContext {
	return execcontext.RunContext{
		Context: context.Background(),
		StdOut:  io.Discard,
		StdErr:  io.Discard,
	}
}

func intPtr(v int) *int { return &v }

// noRetry disables the default retry budget so failure tests stay fast.
func noRetry(step *ast.Step) *ast.Step {
	step.MaxRetries = intPtr(0)
	return step
}

// fakeAgentRunner scripts session outcomes per agent name and records every
// request in arrival order.
type fakeAgentRunner struct {
	mu       sync.Mutex
	requests []session.Request
	handlers map[string]func(req session.Request) (*session.Result, error)
	delay    time.Duration
}

func newFakeAgentRunner() *fakeAgentRunner {
	return &fakeAgentRunner{
		handlers: make(map[string]func(req session.Request) (*session.Result, error)),
	}
}

func (f *fakeAgentRunner) respond(agent string, data interface{}) {
	f.handlers[agent] = func(session.Request) (*session.Result, error) {
		return &session.Result{Data: data}, nil
	}
}

func (f *fakeAgentRunner) failAgent(agent, message string) {
	f.handlers[agent] = func(session.Request) (*session.Result, error) {
		return &session.Result{Error: message}, nil
	}
}

func (f *fakeAgentRunner) failTransport(agent string, err error) {
	f.handlers[agent] = func(session.Request) (*session.Result, error) {
		return nil, err
	}
}

func (f *fakeAgentRunner) Run(ctx context.Context, req session.Request) (*session.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	handler := f.handlers[req.Agent]
	f.mu.Unlock()

	if handler == nil {
		return &session.Result{Data: map[string]interface{}{"ok": true}}, nil
	}
	return handler(req)
}

func (f *fakeAgentRunner) recorded() []session.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// eventCollector drains an event channel into a slice for later inspection.
type eventCollector struct {
	mu     sync.Mutex
	events []pkgEvents.ExecutionEvent
	done   chan struct{}
}

func collectEvents() (chan pkgEvents.ExecutionEvent, *eventCollector) {
	ch := make(chan pkgEvents.ExecutionEvent, 100)
	collector := &eventCollector{done: make(chan struct{})}
	go func() {
		for event := range ch {
			collector.mu.Lock()
			collector.events = append(collector.events, event)
			collector.mu.Unlock()
		}
		close(collector.done)
	}()
	return ch, collector
}

func (c *eventCollector) wait() []pkgEvents.ExecutionEvent {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pkgEvents.ExecutionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) typesSeen() map[pkgEvents.ExecutionEventType]int {
	counts := make(map[pkgEvents.ExecutionEventType]int)
	for _, event := range c.wait() {
		counts[event.Type]++
	}
	return counts
}

func getData(t *testing.T, result *WorkflowResult, stepID string) interface{} {
	t.Helper()
	for _, entry := range result.Context.Results {
		if entry.StepID == stepID {
			return entry.Data
		}
	}
	t.Fatalf("no result recorded for step %q", stepID)
	return nil
}

func getStepResult(result *WorkflowResult, stepID string) *execcontext.StepResult {
	for _, entry := range result.Context.Results {
		if entry.StepID == stepID {
			return entry
		}
	}
	return nil
}

func TestEngine_Execute_SequentialAgentChain(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.respond("plan", map[string]interface{}{"plan": "outline"})
	runner.respond("code", map[string]interface{}{"files": float64(3)})
	runner.respond("test", map[string]interface{}{"passed": true})

	workflow := &ast.Workflow{
		ID: "simple",
		Steps: []*ast.Step{
			{ID: "plan", Type: ast.StepAgent, Agent: "plan", Next: "code"},
			{ID: "code", Type: ast.StepAgent, Agent: "code", Input: "plan", Next: "test"},
			{ID: "test", Type: ast.StepAgent, Agent: "test"},
		},
	}

	engine := New(runner)
	input := map[string]interface{}{"goal": "ship"}
	result, err := engine.Execute(testRC(), workflow, input)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.FinalStepSuccess)
	assert.Equal(t, "test", result.FinalStepID)
	assert.Equal(t, "simple", result.WorkflowID)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Context.Results, 3)
	assert.Equal(t, 3, result.Stats.Successful)

	requests := runner.recorded()
	require.Len(t, requests, 3)

	// First step sees the workflow input and an empty context.
	first := requests[0].Input
	assert.Equal(t, input, first["input"])
	assert.Empty(t, first["context"].(map[string]interface{}))
	_, hasRef := first["plan"]
	assert.False(t, hasRef)

	// The explicit back-reference surfaces plan's data under its own id.
	second := requests[1].Input
	secondCtx := second["context"].(map[string]interface{})
	assert.Contains(t, secondCtx, "plan")
	assert.Equal(t, map[string]interface{}{"plan": "outline"}, second["plan"])

	// Without an input field the most recent step is highlighted.
	third := requests[2].Input
	thirdCtx := third["context"].(map[string]interface{})
	assert.Contains(t, thirdCtx, "plan")
	assert.Contains(t, thirdCtx, "code")
	assert.Equal(t, map[string]interface{}{"files": float64(3)}, third["code"])
}

func TestEngine_Execute_ErrorRouting(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.respond("a", "a done")
	runner.failAgent("b", "agent exploded")
	runner.respond("rescue", "recovered")

	workflow := &ast.Workflow{
		ID: "rescued",
		Steps: []*ast.Step{
			{ID: "a", Type: ast.StepAgent, Agent: "a", Next: "b"},
			noRetry(&ast.Step{ID: "b", Type: ast.StepAgent, Agent: "b", Next: "c", OnError: "rescue"}),
			{ID: "c", Type: ast.StepAgent, Agent: "c"},
			{ID: "rescue", Type: ast.StepAgent, Agent: "rescue"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	// The loop ended through routing, so the workflow succeeded even though
	// b failed along the way.
	assert.True(t, result.Success)
	assert.Equal(t, "rescue", result.FinalStepID)
	assert.True(t, result.FinalStepSuccess)

	b := getStepResult(result, "b")
	require.NotNil(t, b)
	assert.False(t, b.Success)
	assert.Contains(t, b.Error.Message, "agent exploded")

	assert.Nil(t, getStepResult(result, "c"), "the success branch must not run")
	assert.Equal(t, 1, result.Stats.ErrorCount)
}

func TestEngine_Execute_FailureWithoutHandlerEndsRun(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.failAgent("flaky", "no luck")

	workflow := &ast.Workflow{
		ID: "unhandled",
		Steps: []*ast.Step{
			noRetry(&ast.Step{ID: "only", Type: ast.StepAgent, Agent: "flaky", Next: "after"}),
			{ID: "after", Type: ast.StepTransform, Transform: "1"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.FinalStepSuccess)
	assert.Equal(t, "only", result.FinalStepID)
	assert.Nil(t, getStepResult(result, "after"))
}

func TestEngine_Execute_IterationGuard(t *testing.T) {
	workflow := &ast.Workflow{
		ID:            "looper",
		MaxIterations: 5,
		Steps: []*ast.Step{
			{ID: "x", Type: ast.StepTransform, Transform: "1", Next: "x"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded maximum iterations")

	var guardErr *wferrors.GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, "max_iterations", guardErr.Guard)
	assert.Equal(t, "looper", guardErr.WorkflowID)
	assert.Equal(t, 6, guardErr.Iteration)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	// Revisits overwrite, so the store holds one entry executed five times.
	assert.Len(t, result.Context.Results, 1)
	assert.Len(t, result.Context.PreviousSteps, 5)
}

func TestEngine_Execute_DurationGuard(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.delay = 30 * time.Millisecond
	runner.respond("slow", "done")

	workflow := &ast.Workflow{
		ID:          "deadline",
		MaxDuration: &ast.Millis{Duration: 5 * time.Millisecond},
		Steps: []*ast.Step{
			{ID: "first", Type: ast.StepAgent, Agent: "slow", Next: "second"},
			{ID: "second", Type: ast.StepAgent, Agent: "slow"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded maximum duration")
	assert.False(t, result.Success)
	// The first step ran; the guard stopped the run before the second.
	assert.Nil(t, getStepResult(result, "second"))
}

func TestEngine_Execute_ConditionBranch(t *testing.T) {
	build := func(passed bool) *ast.Workflow {
		return &ast.Workflow{
			ID: "branching",
			Steps: []*ast.Step{
				{ID: "test", Type: ast.StepTransform,
					Transform: map[bool]string{true: `{passed: true}`, false: `{passed: false}`}[passed],
					Next:      "check"},
				{ID: "check", Type: ast.StepCondition, Condition: "test.passed == true",
					Then: "deploy", Else: "rollback"},
				{ID: "deploy", Type: ast.StepTransform, Transform: `"deployed"`},
				{ID: "rollback", Type: ast.StepTransform, Transform: `"rolled back"`},
			},
		}
	}

	t.Run("true routes to then", func(t *testing.T) {
		engine := New(newFakeAgentRunner())
		result, err := engine.Execute(testRC(), build(true), nil)
		require.NoError(t, err)

		assert.Equal(t, "deploy", result.FinalStepID)
		assert.Nil(t, getStepResult(result, "rollback"))
		check := getStepResult(result, "check")
		require.NotNil(t, check)
		assert.Equal(t, map[string]interface{}{"result": true}, check.Data)
	})

	t.Run("false routes to else", func(t *testing.T) {
		engine := New(newFakeAgentRunner())
		result, err := engine.Execute(testRC(), build(false), nil)
		require.NoError(t, err)

		assert.Equal(t, "rollback", result.FinalStepID)
		assert.Nil(t, getStepResult(result, "deploy"))
	})
}

func TestEngine_Execute_ParallelPartialSuccess(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.respond("ok_a", "alpha")
	runner.respond("ok_b", "beta")
	runner.failAgent("bad", "child failed")

	workflow := &ast.Workflow{
		ID: "fanout",
		Steps: []*ast.Step{
			{ID: "fan", Type: ast.StepParallel, MinSuccess: intPtr(2), Next: "after", Steps: []*ast.Step{
				{ID: "left", Type: ast.StepAgent, Agent: "ok_a"},
				{ID: "mid", Type: ast.StepAgent, Agent: "ok_b"},
				noRetry(&ast.Step{ID: "right", Type: ast.StepAgent, Agent: "bad"}),
			}},
			{ID: "after", Type: ast.StepTransform, Transform: "fan"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "after", result.FinalStepID)

	fan := getStepResult(result, "fan")
	require.NotNil(t, fan)
	assert.True(t, fan.Success)

	data, ok := fan.Data.(map[string]interface{})
	require.True(t, ok)
	require.Len(t, data, 3)
	for _, childID := range []string{"left", "mid", "right"} {
		assert.Contains(t, data, childID)
	}
	right := data["right"].(map[string]interface{})
	assert.Equal(t, false, right["success"])

	// Child results live under the group id only.
	assert.Nil(t, getStepResult(result, "left"))
	assert.Nil(t, getStepResult(result, "mid"))
}

func TestEngine_Execute_ParallelBelowThresholdRoutesToError(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.failAgent("bad", "nope")
	runner.respond("good", "fine")

	workflow := &ast.Workflow{
		ID: "fanout_fail",
		Steps: []*ast.Step{
			{ID: "fan", Type: ast.StepParallel, Next: "after", OnError: "cleanup", Steps: []*ast.Step{
				{ID: "left", Type: ast.StepAgent, Agent: "good"},
				noRetry(&ast.Step{ID: "right", Type: ast.StepAgent, Agent: "bad"}),
			}},
			{ID: "after", Type: ast.StepTransform, Transform: "1"},
			{ID: "cleanup", Type: ast.StepTransform, Transform: "2"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	// min_success defaults to all children, so one failure fails the group.
	fan := getStepResult(result, "fan")
	require.NotNil(t, fan)
	assert.False(t, fan.Success)
	assert.Contains(t, fan.Error.Message, "1 of 2")

	// The composite data still carries every child result.
	data := fan.Data.(map[string]interface{})
	assert.Len(t, data, 2)

	assert.Equal(t, "cleanup", result.FinalStepID)
	assert.Nil(t, getStepResult(result, "after"))
}

func TestEngine_Execute_ApprovalRouting(t *testing.T) {
	workflow := &ast.Workflow{
		ID: "gated",
		Steps: []*ast.Step{
			{ID: "gate", Type: ast.StepApproval, Message: "Proceed?",
				OnApprove: "yes", OnReject: "no"},
			{ID: "yes", Type: ast.StepTransform, Transform: `"approved path"`},
			{ID: "no", Type: ast.StepTransform, Transform: `"rejected path"`},
		},
	}

	t.Run("approval routes to on_approve", func(t *testing.T) {
		engine := New(newFakeAgentRunner(), WithApprovalHandler(AutoApprover{Approved: true}))
		result, err := engine.Execute(testRC(), workflow, nil)
		require.NoError(t, err)

		assert.Equal(t, "yes", result.FinalStepID)
		gate := getStepResult(result, "gate")
		require.NotNil(t, gate)
		assert.True(t, gate.Success)
		data := gate.Data.(map[string]interface{})
		assert.Equal(t, true, data["approved"])
		assert.Equal(t, "Proceed?", data["message"])
	})

	t.Run("rejection routes to on_reject", func(t *testing.T) {
		engine := New(newFakeAgentRunner(), WithApprovalHandler(AutoApprover{Approved: false}))
		result, err := engine.Execute(testRC(), workflow, nil)
		require.NoError(t, err)

		assert.Equal(t, "no", result.FinalStepID)
	})
}

func TestEngine_Execute_EntryStepFallback(t *testing.T) {
	// Both steps are routing targets, so entry falls back to steps[0].
	workflow := &ast.Workflow{
		ID: "cycle_entry",
		Steps: []*ast.Step{
			{ID: "ping", Type: ast.StepTransform, Transform: "1", Next: "pong"},
			{ID: "pong", Type: ast.StepCondition, Condition: "false", Then: "ping"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ping", "pong"}, result.Context.PreviousSteps)
}

func TestEngine_Execute_UnknownRouteTarget(t *testing.T) {
	workflow := &ast.Workflow{
		ID: "dangling",
		Steps: []*ast.Step{
			{ID: "start", Type: ast.StepTransform, Transform: "1", Next: "ghost"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.Error(t, err)

	var notFound *wferrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Name)
	assert.False(t, result.Success)
	assert.Equal(t, result.Error, err.Error())
}

func TestEngine_Execute_MissingExecutor(t *testing.T) {
	workflow := &ast.Workflow{
		ID: "no_executor",
		Steps: []*ast.Step{
			{ID: "start", Type: ast.StepTransform, Transform: "1"},
		},
	}

	engine := New(newFakeAgentRunner(), WithRegistry(NewRegistry()))
	result, err := engine.Execute(testRC(), workflow, nil)
	require.Error(t, err)

	var notFound *wferrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.False(t, result.Success)
}

func TestEngine_Execute_NilWorkflow(t *testing.T) {
	engine := New(newFakeAgentRunner())
	_, err := engine.Execute(testRC(), nil, nil)
	assert.Error(t, err)
}

func TestEngine_Execute_InvalidStructure(t *testing.T) {
	engine := New(newFakeAgentRunner())

	_, err := engine.Execute(testRC(), &ast.Workflow{ID: "hollow"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
}

func TestEngine_Execute_NilInputFallsBackToInitialContext(t *testing.T) {
	workflow := &ast.Workflow{
		ID:             "seeded",
		InitialContext: map[string]interface{}{"topic": "etymology"},
		Steps: []*ast.Step{
			{ID: "peek", Type: ast.StepTransform, Transform: "input.topic"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	assert.Equal(t, "etymology", getData(t, result, "peek"))
}

func TestEngine_Execute_ExplicitInputWinsOverInitialContext(t *testing.T) {
	workflow := &ast.Workflow{
		ID:             "seeded",
		InitialContext: map[string]interface{}{"topic": "etymology"},
		Steps: []*ast.Step{
			{ID: "peek", Type: ast.StepTransform, Transform: "input.topic"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, map[string]interface{}{"topic": "phonology"})
	require.NoError(t, err)

	assert.Equal(t, "phonology", getData(t, result, "peek"))
}

func TestEngine_Execute_EventStream(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.respond("worker", "done")

	workflow := &ast.Workflow{
		ID: "observable",
		Steps: []*ast.Step{
			{ID: "work", Type: ast.StepAgent, Agent: "worker"},
		},
	}

	ch, collector := collectEvents()
	engine := New(runner, WithEventChannel(ch))
	_, err := engine.Execute(testRC(), workflow, nil)
	close(ch)
	require.NoError(t, err)

	counts := collector.typesSeen()
	assert.Equal(t, 1, counts[pkgEvents.EventWorkflowStarted])
	assert.Equal(t, 1, counts[pkgEvents.EventStepStarted])
	assert.Equal(t, 1, counts[pkgEvents.EventStepCompleted])
	assert.Equal(t, 1, counts[pkgEvents.EventWorkflowCompleted])
	assert.Zero(t, counts[pkgEvents.EventWorkflowFailed])
}

func TestEngine_Execute_FailureEventStream(t *testing.T) {
	workflow := &ast.Workflow{
		ID:            "guard_trip",
		MaxIterations: 1,
		Steps: []*ast.Step{
			{ID: "x", Type: ast.StepTransform, Transform: "1", Next: "x"},
		},
	}

	ch, collector := collectEvents()
	engine := New(newFakeAgentRunner(), WithEventChannel(ch))
	_, err := engine.Execute(testRC(), workflow, nil)
	close(ch)
	require.Error(t, err)

	counts := collector.typesSeen()
	assert.Equal(t, 1, counts[pkgEvents.EventWorkflowFailed])
	assert.Zero(t, counts[pkgEvents.EventWorkflowCompleted])
}

func TestEngine_Execute_Trace(t *testing.T) {
	workflow := &ast.Workflow{
		ID:    "traced",
		Trace: true,
		Steps: []*ast.Step{
			{ID: "first", Type: ast.StepTransform, Transform: `{v: 1}`, Next: "second"},
			{ID: "second", Type: ast.StepTransform, Transform: "first.v + 1"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "first", result.Trace[0].StepID)
	assert.Equal(t, "second", result.Trace[1].StepID)

	// A trace entry snapshots what the step saw, not what it produced.
	assert.Empty(t, result.Trace[0].Context.Results)
	require.Len(t, result.Trace[1].Context.Results, 1)
	assert.Equal(t, "first", result.Trace[1].Context.Results[0].StepID)
	assert.Equal(t, float64(2), getData(t, result, "second"))
}

func TestEngine_Execute_TraceDisabledByDefault(t *testing.T) {
	workflow := &ast.Workflow{
		ID: "untraced",
		Steps: []*ast.Step{
			{ID: "only", Type: ast.StepTransform, Transform: "1"},
		},
	}

	engine := New(newFakeAgentRunner())
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Trace)
}

func TestEngine_Execute_ContextPruning(t *testing.T) {
	t.Run("recent retention drops the oldest entries", func(t *testing.T) {
		workflow := &ast.Workflow{
			ID:               "pruned",
			MaxContextSize:   2,
			ContextRetention: ast.RetentionRecent,
			Steps: []*ast.Step{
				{ID: "one", Type: ast.StepTransform, Transform: "1", Next: "two"},
				{ID: "two", Type: ast.StepTransform, Transform: "2", Next: "three"},
				{ID: "three", Type: ast.StepTransform, Transform: "3"},
			},
		}

		engine := New(newFakeAgentRunner())
		result, err := engine.Execute(testRC(), workflow, nil)
		require.NoError(t, err)

		assert.Nil(t, getStepResult(result, "one"))
		assert.NotNil(t, getStepResult(result, "two"))
		assert.NotNil(t, getStepResult(result, "three"))
	})

	t.Run("referenced retention protects pending inputs", func(t *testing.T) {
		workflow := &ast.Workflow{
			ID:               "pinned",
			MaxContextSize:   2,
			ContextRetention: ast.RetentionReferenced,
			Steps: []*ast.Step{
				{ID: "one", Type: ast.StepTransform, Transform: "1", Next: "two"},
				{ID: "two", Type: ast.StepTransform, Transform: "2", Next: "three"},
				{ID: "three", Type: ast.StepTransform, Transform: "4", Next: "reader"},
				{ID: "reader", Type: ast.StepTransform, Transform: "one", Input: "one"},
			},
		}

		engine := New(newFakeAgentRunner())
		result, err := engine.Execute(testRC(), workflow, nil)
		require.NoError(t, err)

		// one survived long enough for reader to consume it.
		assert.True(t, result.Success)
		assert.True(t, result.FinalStepSuccess)
		assert.Equal(t, float64(1), getData(t, result, "reader"))
	})
}

func TestEngine_Execute_AppliesWorkflowDefaults(t *testing.T) {
	workflow := &ast.Workflow{
		ID: "defaulted",
		Steps: []*ast.Step{
			{ID: "only", Type: ast.StepTransform, Transform: "1"},
		},
	}

	engine := New(newFakeAgentRunner())
	_, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	assert.Equal(t, ast.DefaultMaxIterations, workflow.MaxIterations)
	assert.Equal(t, ast.RetentionAll, workflow.ContextRetention)
	require.NotNil(t, workflow.MaxDuration)
	assert.Equal(t, ast.DefaultMaxDuration, workflow.MaxDuration.Duration)
}

func TestEngine_Execute_AgentTransportFailureRoutes(t *testing.T) {
	runner := newFakeAgentRunner()
	runner.failTransport("down", errors.New("connection refused"))
	runner.respond("painter", "patched")

	workflow := &ast.Workflow{
		ID: "transport",
		Steps: []*ast.Step{
			noRetry(&ast.Step{ID: "call", Type: ast.StepAgent, Agent: "down", OnError: "patch"}),
			{ID: "patch", Type: ast.StepAgent, Agent: "painter"},
		},
	}

	engine := New(runner)
	result, err := engine.Execute(testRC(), workflow, nil)
	require.NoError(t, err)

	call := getStepResult(result, "call")
	require.NotNil(t, call)
	assert.False(t, call.Success)
	assert.Contains(t, call.Error.Message, "connection refused")
	assert.Contains(t, call.Error.Message, `step "call"`)
	assert.Equal(t, "patch", result.FinalStepID)
}
