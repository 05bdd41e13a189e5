// Package execcontext holds the immutable execution context threaded through a
// workflow run. Every mutation returns a new context; step data is deep-cloned
// on insert so stored history can never alias executor-local state.
package execcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/utils"
	"github.com/weftai/weft/internal/wferrors"
)

// Context is the state record for one workflow execution. The zero value is
// not usable; create one with NewContext. Mutator methods return a fresh
// context that shares unchanged step results with the receiver, so any
// previously held reference remains a valid point-in-time view.
type Context struct {
	workflowID string
	runID      string
	startTime  time.Time
	input      map[string]interface{}

	// Results in insertion order, most recent last. A step id revisited by
	// routing replaces its old entry and moves to the end.
	entries []*StepResult
	index   map[string]int

	currentStep   string
	previousSteps []string
	iterations    int
	errorCount    int

	logger zerolog.Logger
}

// NewContext creates the context for a fresh workflow run: stamped start time,
// no results, zeroed counters.
func NewContext(rc RunContext, workflow *ast.Workflow, input map[string]interface{}) *Context {
	runID := rc.RunID
	if runID == "" {
		runID = utils.GenerateRunID()
	}

	logger := zerolog.Ctx(rc.Context).With().
		Str("workflow", workflow.ID).
		Str("run_id", runID).
		Logger()

	cloned, ok := deepClone(input)
	if !ok {
		logger.Warn().Msg("workflow input is not fully cloneable, storing as-is")
	}
	in, _ := cloned.(map[string]interface{})
	if in == nil {
		in = map[string]interface{}{}
	}

	return &Context{
		workflowID:    workflow.ID,
		runID:         runID,
		startTime:     time.Now(),
		input:         in,
		index:         map[string]int{},
		previousSteps: []string{},
		logger:        logger,
	}
}

func (c *Context) WorkflowID() string   { return c.workflowID }
func (c *Context) RunID() string        { return c.runID }
func (c *Context) StartTime() time.Time { return c.startTime }
func (c *Context) CurrentStep() string  { return c.currentStep }
func (c *Context) IterationCount() int  { return c.iterations }
func (c *Context) ErrorCount() int      { return c.errorCount }
func (c *Context) Logger() zerolog.Logger { return c.logger }

// Input returns the workflow input as stored at creation. Callers must treat
// it as read-only.
func (c *Context) Input() map[string]interface{} { return c.input }

// Len returns the number of stored step results.
func (c *Context) Len() int { return len(c.entries) }

// PreviousSteps returns the ordered step id history. The slice is a copy.
func (c *Context) PreviousSteps() []string {
	out := make([]string, len(c.previousSteps))
	copy(out, c.previousSteps)
	return out
}

// Results returns the stored step results in insertion order. The slice is a
// copy; the results themselves are shared and must be treated as read-only.
func (c *Context) Results() []*StepResult {
	out := make([]*StepResult, len(c.entries))
	copy(out, c.entries)
	return out
}

// clone copies the context spine. Step results and input are shared.
func (c *Context) clone() *Context {
	cp := &Context{
		workflowID:  c.workflowID,
		runID:       c.runID,
		startTime:   c.startTime,
		input:       c.input,
		entries:     make([]*StepResult, len(c.entries)),
		index:       make(map[string]int, len(c.index)+1),
		currentStep: c.currentStep,
		iterations:  c.iterations,
		errorCount:  c.errorCount,
		logger:      c.logger,
	}
	copy(cp.entries, c.entries)
	for k, v := range c.index {
		cp.index[k] = v
	}
	cp.previousSteps = make([]string, len(c.previousSteps), len(c.previousSteps)+1)
	copy(cp.previousSteps, c.previousSteps)
	return cp
}

// AddResult returns a new context with the result stored under stepID,
// currentStep set to stepID and stepID appended to the step history. The
// result's data and error are deep-cloned before storage; a result for an
// already-present id replaces the old entry and moves to the most-recent
// position. The receiver is untouched.
func (c *Context) AddResult(stepID string, result *StepResult) *Context {
	stored := result.cloneForStore(c.logger)

	cp := c.clone()
	if pos, exists := cp.index[stepID]; exists {
		cp.entries = append(cp.entries[:pos], cp.entries[pos+1:]...)
		for id, p := range cp.index {
			if p > pos {
				cp.index[id] = p - 1
			}
		}
		delete(cp.index, stepID)
	}
	cp.index[stepID] = len(cp.entries)
	cp.entries = append(cp.entries, stored)
	cp.currentStep = stepID
	cp.previousSteps = append(cp.previousSteps, stepID)
	return cp
}

// GetResult looks up the stored result for a step id.
func (c *Context) GetResult(stepID string) (*StepResult, bool) {
	pos, ok := c.index[stepID]
	if !ok {
		return nil, false
	}
	return c.entries[pos], true
}

// IncrementIteration returns a new context with the iteration counter bumped.
func (c *Context) IncrementIteration() *Context {
	cp := c.clone()
	cp.iterations++
	return cp
}

// IncrementError returns a new context with the error counter bumped.
func (c *Context) IncrementError() *Context {
	cp := c.clone()
	cp.errorCount++
	return cp
}

// SetCurrentStep returns a new context pointing at the given step id.
func (c *Context) SetCurrentStep(stepID string) *Context {
	cp := c.clone()
	cp.currentStep = stepID
	return cp
}

// BuildContextObject returns {step_id: data} for every successful result, in
// insertion order of the underlying map. Executors use it to assemble agent
// inputs and expression scopes.
func (c *Context) BuildContextObject() map[string]interface{} {
	out := make(map[string]interface{}, len(c.entries))
	for _, entry := range c.entries {
		if entry.Success {
			out[entry.StepID] = entry.Data
		}
	}
	return out
}

// GetValue resolves a dotted path ("step_id.field.sub") against successful
// results. Missing steps, failed steps and missing fields all report false.
func (c *Context) GetValue(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}

	entry, ok := c.GetResult(parts[0])
	if !ok || !entry.Success {
		return nil, false
	}

	current := entry.Data
	for _, part := range parts[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Prune returns a context holding only the most recent maxSize results.
// Contexts at or under the limit are returned unchanged.
func (c *Context) Prune(maxSize int) *Context {
	return c.PruneRetaining(maxSize, nil)
}

// PruneRetaining drops the oldest results down to maxSize but never drops ids
// in keep. When the keep set alone exceeds maxSize the result stays over the
// limit rather than breaking an upcoming reference.
func (c *Context) PruneRetaining(maxSize int, keep map[string]bool) *Context {
	if maxSize < 0 || len(c.entries) <= maxSize {
		return c
	}

	drop := len(c.entries) - maxSize
	kept := make([]*StepResult, 0, maxSize)
	for _, entry := range c.entries {
		if drop > 0 && !keep[entry.StepID] {
			drop--
			continue
		}
		kept = append(kept, entry)
	}

	cp := c.clone()
	cp.entries = kept
	cp.index = make(map[string]int, len(kept))
	for i, entry := range kept {
		cp.index[entry.StepID] = i
	}
	return cp
}

// Stats summarizes the run so far.
func (c *Context) Stats() Stats {
	s := Stats{
		Total:          len(c.entries),
		IterationCount: c.iterations,
		ErrorCount:     c.errorCount,
	}
	var total time.Duration
	for _, entry := range c.entries {
		if entry.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		total += entry.Duration.Duration
	}
	s.TotalDuration = ast.Millis{Duration: total}
	if len(c.entries) > 0 {
		s.AvgDuration = ast.Millis{Duration: total / time.Duration(len(c.entries))}
	}
	return s
}

// Stats is the aggregate view returned by Context.Stats.
type Stats struct {
	Total          int        `json:"total"`
	Successful     int        `json:"successful"`
	Failed         int        `json:"failed"`
	AvgDuration    ast.Millis `json:"avg_duration_ms"`
	TotalDuration  ast.Millis `json:"total_duration_ms"`
	IterationCount int        `json:"iteration_count"`
	ErrorCount     int        `json:"error_count"`
}

// Snapshot is the serializable point-in-time view of a context, embedded in
// workflow results, trace entries and server payloads.
type Snapshot struct {
	WorkflowID     string                 `json:"workflow_id"`
	RunID          string                 `json:"run_id"`
	StartTime      time.Time              `json:"start_time"`
	Input          map[string]interface{} `json:"input"`
	Results        []*StepResult          `json:"results"`
	CurrentStep    string                 `json:"current_step,omitempty"`
	PreviousSteps  []string               `json:"previous_steps"`
	IterationCount int                    `json:"iteration_count"`
	ErrorCount     int                    `json:"error_count"`
}

// Snapshot captures the current state. Step results are shared with the
// context and must be treated as read-only.
func (c *Context) Snapshot() *Snapshot {
	return &Snapshot{
		WorkflowID:     c.workflowID,
		RunID:          c.runID,
		StartTime:      c.startTime,
		Input:          c.input,
		Results:        c.Results(),
		CurrentStep:    c.currentStep,
		PreviousSteps:  c.PreviousSteps(),
		IterationCount: c.iterations,
		ErrorCount:     c.errorCount,
	}
}

// StepResult is the outcome of executing a single step.
type StepResult struct {
	StepID    string      `json:"step_id"`
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *StepError  `json:"error,omitempty"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	Duration  ast.Millis  `json:"duration_ms"`
	Retries   int         `json:"retries"`
}

// NewStepResult builds a successful result carrying data.
func NewStepResult(stepID string, data interface{}) *StepResult {
	return &StepResult{StepID: stepID, Success: true, Data: data}
}

// NewStepFailure builds a failed result carrying the error.
func NewStepFailure(stepID string, err error) *StepResult {
	return &StepResult{StepID: stepID, Success: false, Error: WrapError(err)}
}

// AsMap renders the result as a plain map so it can travel inside another
// result's data (the parallel executor stores child results this way) and stay
// addressable from expressions.
func (r *StepResult) AsMap() map[string]interface{} {
	out := map[string]interface{}{
		"step_id":     r.StepID,
		"success":     r.Success,
		"duration_ms": float64(r.Duration.Ms()),
		"retries":     float64(r.Retries),
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != nil {
		out["error"] = r.Error.Message
	}
	return out
}

// cloneForStore copies the result with its data and error deep-cloned. Values
// that cannot be cloned are stored as-is after a warning.
func (r *StepResult) cloneForStore(logger zerolog.Logger) *StepResult {
	cp := *r
	if r.Data != nil {
		data, ok := deepClone(r.Data)
		if !ok {
			logger.Warn().
				Str("step_id", r.StepID).
				Str("type", fmt.Sprintf("%T", r.Data)).
				Msg("step data is not cloneable, storing as-is")
		}
		cp.Data = data
	}
	if r.Error != nil {
		errCopy := *r.Error
		cp.Error = &errCopy
	}
	return &cp
}

// StepError is the serializable error form carried by failed step results.
// Kind mirrors the error taxonomy so callers can branch without string
// matching.
type StepError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *StepError) Error() string { return e.Message }

// WrapError converts any error into a StepError, tagging it with the matching
// taxonomy kind.
func WrapError(err error) *StepError {
	if err == nil {
		return nil
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}

	kind := "execution"
	var (
		timeoutErr  *wferrors.TimeoutError
		networkErr  *wferrors.NetworkError
		agentErr    *wferrors.AgentError
		notFoundErr *wferrors.NotFoundError
		missingErr  *wferrors.MissingFieldError
		invalidErr  *wferrors.InvalidValueError
		guardErr    *wferrors.GuardError
	)
	switch {
	case errors.As(err, &timeoutErr):
		kind = "timeout"
	case errors.As(err, &networkErr):
		kind = "network"
	case errors.As(err, &agentErr):
		kind = "agent"
	case errors.As(err, &notFoundErr):
		kind = "not_found"
	case errors.As(err, &missingErr):
		kind = "missing_field"
	case errors.As(err, &invalidErr):
		kind = "invalid_value"
	case errors.As(err, &guardErr):
		kind = "guard"
	}
	return &StepError{Kind: kind, Message: err.Error()}
}

// TraceEntry records one engine loop turn when tracing is enabled.
type TraceEntry struct {
	StepID    string      `json:"step_id"`
	Timestamp time.Time   `json:"timestamp"`
	Result    *StepResult `json:"result"`
	Context   *Snapshot   `json:"context"`
}

// deepClone copies JSON-shaped values (maps, slices, primitives). The second
// return reports whether the whole value was cloneable; non-cloneable leaves
// are shared instead of copied.
func deepClone(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, time.Time, json.Number:
		return val, true
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		ok := true
		for k, item := range val {
			cloned, itemOK := deepClone(item)
			out[k] = cloned
			ok = ok && itemOK
		}
		return out, ok
	case []interface{}:
		out := make([]interface{}, len(val))
		ok := true
		for i, item := range val {
			cloned, itemOK := deepClone(item)
			out[i] = cloned
			ok = ok && itemOK
		}
		return out, ok
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out, true
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out, true
	default:
		// Struct-shaped data round-trips through JSON; anything else
		// (channels, funcs) is shared as-is.
		raw, err := json.Marshal(val)
		if err != nil {
			return val, false
		}
		var out interface{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return val, false
		}
		return out, true
	}
}

// RunContext bundles the cancellation context with the output streams a run
// writes to.
type RunContext struct {
	Context context.Context
	StdOut  io.Writer
	StdErr  io.Writer

	// RunID, when set, names the run instead of a generated id. Serving
	// surfaces use it to hand out the id before the run starts.
	RunID string
}

func (rc RunContext) Write(p []byte) (n int, err error) {
	return rc.StdOut.Write(p)
}

func (rc RunContext) Printf(format string, v ...any) {
	fmt.Fprintf(rc.StdOut, format, v...)
}
