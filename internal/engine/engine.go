package engine

import (
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/events"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

// WorkflowResult is the terminal outcome of one Execute call. Success means
// the loop ended because routing returned no next step. The final step's own
// outcome is reported separately: a workflow can finish successfully on a
// rescue path even though its last step before the rescue failed, and some
// callers care about one, some about the other.
type WorkflowResult struct {
	WorkflowID       string                    `json:"workflow_id"`
	RunID            string                    `json:"run_id"`
	Success          bool                      `json:"success"`
	FinalStepID      string                    `json:"final_step_id,omitempty"`
	FinalStepSuccess bool                      `json:"final_step_success"`
	StartTime        time.Time                 `json:"start_time"`
	EndTime          time.Time                 `json:"end_time"`
	Duration         ast.Millis                `json:"duration_ms"`
	Error            string                    `json:"error,omitempty"`
	Context          *execcontext.Snapshot     `json:"context,omitempty"`
	Trace            []*execcontext.TraceEntry `json:"trace,omitempty"`
	Stats            execcontext.Stats         `json:"stats"`
}

// Engine drives workflow execution: structural validation, entry step
// discovery, then the guard / dispatch / record / route loop until routing
// returns no next step.
type Engine struct {
	registry *Registry
	guards   []Guard
	eventsCh chan<- pkgEvents.ExecutionEvent
	approver ApprovalHandler
	sessions AgentRunner
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithRegistry replaces the default executor registry. The caller owns every
// registration; the standard executors are not added.
func WithRegistry(registry *Registry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithGuards replaces the default guard set (iteration and duration limits).
func WithGuards(guards ...Guard) Option {
	return func(e *Engine) { e.guards = guards }
}

// WithEventChannel delivers execution events to ch. Sends block, so the
// caller must keep a listener draining the channel for the whole Execute
// call.
func WithEventChannel(ch chan<- pkgEvents.ExecutionEvent) Option {
	return func(e *Engine) { e.eventsCh = ch }
}

// WithApprovalHandler sets the decision surface for approval steps.
func WithApprovalHandler(handler ApprovalHandler) Option {
	return func(e *Engine) { e.approver = handler }
}

// New creates an engine backed by the given session surface. With no options
// it registers the five standard executors and runs with the default guards
// and auto-approval.
func New(sessions AgentRunner, opts ...Option) *Engine {
	e := &Engine{
		guards:   DefaultGuards(),
		approver: AutoApprover{Approved: true},
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
		e.registry.Register(ast.StepAgent, NewAgentExecutor(e.sessions, e.emit))
		e.registry.Register(ast.StepTransform, NewTransformExecutor(e.emit))
		e.registry.Register(ast.StepCondition, NewConditionExecutor(e.emit))
		e.registry.Register(ast.StepApproval, NewApprovalExecutor(e.approver, e.emit))
		e.registry.Register(ast.StepParallel, NewParallelExecutor(e.registry, e.emit))
	}
	return e
}

func (e *Engine) emit(event pkgEvents.ExecutionEvent) {
	if e.eventsCh != nil {
		e.eventsCh <- event
	}
}

// Execute runs a workflow to completion. Expected step failures are recorded
// in the context and flow through on_error routing; fatal problems (invalid
// structure, unknown step id, missing executor, guard violation) end the run
// with a failed result and a non-nil error.
//
// A nil input falls back to the definition's initial_context, then to an
// empty object.
func (e *Engine) Execute(rc execcontext.RunContext, workflow *ast.Workflow, input map[string]interface{}) (*WorkflowResult, error) {
	if workflow == nil {
		return nil, &wferrors.InvalidValueError{Where: "engine", What: "workflow", Why: "must not be nil"}
	}

	if validation := ast.NewValidator().ValidateStructure(workflow); validation.HasErrors() {
		return nil, validation.ToError()
	}
	workflow.ApplyDefaults()

	if input == nil {
		input = workflow.InitialContext
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	start := time.Now()
	execCtx := execcontext.NewContext(rc, workflow, input)
	runID := execCtx.RunID()
	logger := execCtx.Logger()

	e.emit(events.NewWorkflowStartedEvent(workflow.ID, runID, len(workflow.Steps)))
	logger.Info().Int("steps", len(workflow.Steps)).Msg("workflow started")

	var trace []*execcontext.TraceEntry

	// Structural validation guarantees a non-empty step list, so the entry
	// step always exists.
	currentID := workflow.EntryStep().ID

	for currentID != "" {
		execCtx = execCtx.IncrementIteration()

		if err := e.checkGuards(execCtx, workflow); err != nil {
			return e.fail(workflow, execCtx, trace, start, err)
		}

		step, ok := workflow.GetStep(currentID)
		if !ok {
			err := wferrors.NewNotFound("step", currentID, workflow.AllStepIDs(),
				"routing fields must point at existing step ids")
			return e.fail(workflow, execCtx, trace, start, err)
		}

		execCtx = execCtx.SetCurrentStep(step.ID)
		e.emit(events.NewStepStartedEvent(step, runID, execCtx.IterationCount()))

		executor, err := e.registry.Get(step.Type)
		if err != nil {
			return e.fail(workflow, execCtx, trace, start, err)
		}

		result := executor.Execute(rc, step, execCtx)

		if workflow.Trace {
			// The snapshot is taken before the result is inserted; a trace
			// entry shows what the step saw, not what it produced.
			trace = append(trace, &execcontext.TraceEntry{
				StepID:    step.ID,
				Timestamp: time.Now(),
				Result:    result,
				Context:   execCtx.Snapshot(),
			})
		}

		execCtx = execCtx.AddResult(step.ID, result)
		if result.Success {
			e.emit(events.NewStepCompletedEvent(step, runID, execCtx.IterationCount(), result.Duration.Duration))
		} else {
			execCtx = execCtx.IncrementError()
			errMsg := ""
			if result.Error != nil {
				errMsg = result.Error.Message
			}
			e.emit(events.NewStepFailedEvent(step, runID, execCtx.IterationCount(), result.Duration.Duration, errMsg))
		}
		if workflow.Debug {
			logger.Debug().
				Str("step", step.ID).
				Bool("success", result.Success).
				Int("retries", result.Retries).
				Dur("duration", result.Duration.Duration).
				Msg("step finished")
		}

		execCtx = e.pruneContext(execCtx, workflow)

		currentID = executor.Route(step, result, execCtx)
	}

	duration := time.Since(start)
	e.emit(events.NewWorkflowCompletedEvent(workflow.ID, runID, duration))
	logger.Info().Dur("duration", duration).Msg("workflow completed")

	return e.buildResult(workflow, execCtx, trace, start, true, nil), nil
}

// fail ends the run on the fatal path, emitting the failure event and
// returning the error alongside a failed result that still carries the
// context accumulated so far.
func (e *Engine) fail(workflow *ast.Workflow, execCtx *execcontext.Context, trace []*execcontext.TraceEntry, start time.Time, err error) (*WorkflowResult, error) {
	execCtx = execCtx.IncrementError()
	e.emit(events.NewWorkflowFailedEvent(workflow.ID, execCtx.RunID(), time.Since(start), err))
	failLogger := execCtx.Logger()
	failLogger.Error().Err(err).Msg("workflow failed")
	return e.buildResult(workflow, execCtx, trace, start, false, err), err
}

func (e *Engine) buildResult(workflow *ast.Workflow, execCtx *execcontext.Context, trace []*execcontext.TraceEntry, start time.Time, success bool, err error) *WorkflowResult {
	end := time.Now()
	result := &WorkflowResult{
		WorkflowID: workflow.ID,
		RunID:      execCtx.RunID(),
		Success:    success,
		StartTime:  start,
		EndTime:    end,
		Duration:   ast.Millis{Duration: end.Sub(start)},
		Context:    execCtx.Snapshot(),
		Trace:      trace,
		Stats:      execCtx.Stats(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	if entries := execCtx.Results(); len(entries) > 0 {
		last := entries[len(entries)-1]
		result.FinalStepID = last.StepID
		result.FinalStepSuccess = last.Success
	}
	return result
}

func (e *Engine) checkGuards(execCtx *execcontext.Context, workflow *ast.Workflow) error {
	for _, guard := range e.guards {
		if err := guard.Check(execCtx, workflow); err != nil {
			if guardErr, ok := err.(*wferrors.GuardError); ok {
				guardErr.WorkflowID = workflow.ID
				guardErr.StepID = execCtx.CurrentStep()
				guardErr.Iteration = execCtx.IterationCount()
			}
			return err
		}
	}
	return nil
}

// pruneContext drops old results once the store grows past max_context_size.
// Referenced retention additionally protects results that a not-yet-executed
// step still names through its input field.
func (e *Engine) pruneContext(execCtx *execcontext.Context, workflow *ast.Workflow) *execcontext.Context {
	if execCtx.Len() <= workflow.MaxContextSize {
		return execCtx
	}
	if workflow.ContextRetention == ast.RetentionReferenced {
		executed := make(map[string]bool)
		for _, id := range execCtx.PreviousSteps() {
			executed[id] = true
		}
		keep := make(map[string]bool)
		for _, step := range workflow.AllSteps() {
			if step.Input != "" && !executed[step.ID] {
				keep[step.Input] = true
			}
		}
		return execCtx.PruneRetaining(workflow.MaxContextSize, keep)
	}
	return execCtx.Prune(workflow.MaxContextSize)
}
