package ast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Position represents a position in a source file
type Position struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Offset int    `json:"offset"`
	File   string `json:"file,omitempty"`
}

// String returns a human-readable representation of the position
func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ExtractPosition converts a byte offset reported by a decoder into a
// line/column position within the source document.
func ExtractPosition(source []byte, offset int) Position {
	lines := strings.Split(string(source), "\n")

	currentOffset := 0
	for lineNum, line := range lines {
		lineLength := len(line) + 1 // +1 for newline character
		if currentOffset+lineLength > offset {
			column := offset - currentOffset + 1
			return Position{
				Line:   lineNum + 1, // 1-indexed
				Column: column,
				Offset: offset,
			}
		}
		currentOffset += lineLength
	}

	// Fallback if position is at end of file
	return Position{
		Line:   len(lines),
		Column: len(lines[len(lines)-1]) + 1,
		Offset: offset,
	}
}

// ExtractContext extracts contextual lines around a position for error reporting
func ExtractContext(source []byte, position Position, contextLines int) string {
	lines := strings.Split(string(source), "\n")

	if position.Line <= 0 || position.Line > len(lines) {
		return ""
	}

	start := max(0, position.Line-contextLines-1)
	end := min(len(lines), position.Line+contextLines)

	var context strings.Builder
	for i := start; i < end; i++ {
		lineNum := i + 1
		prefix := "   "
		if lineNum == position.Line {
			prefix = ">> "
		}

		context.WriteString(fmt.Sprintf("%s%4d | %s\n", prefix, lineNum, lines[i]))

		// Add a pointer to the specific column for the error line
		if lineNum == position.Line && position.Column > 0 {
			pointer := strings.Repeat(" ", 8+min(position.Column-1, len(lines[i]))) + "^"
			context.WriteString(pointer + "\n")
		}
	}

	return context.String()
}

// StepType discriminates the five workflow step kinds.
type StepType string

const (
	StepAgent     StepType = "agent"
	StepTransform StepType = "transform"
	StepCondition StepType = "condition"
	StepApproval  StepType = "approval"
	StepParallel  StepType = "parallel"
)

// KnownStepTypes lists every step kind the engine understands, in a stable order.
func KnownStepTypes() []StepType {
	return []StepType{StepAgent, StepTransform, StepCondition, StepApproval, StepParallel}
}

// Valid reports whether the tag names a known step kind.
func (t StepType) Valid() bool {
	switch t {
	case StepAgent, StepTransform, StepCondition, StepApproval, StepParallel:
		return true
	}
	return false
}

// Retention selects which step results the engine drops once the context
// grows past max_context_size. The size cap is always enforced; the mode only
// picks the victims.
type Retention string

const (
	// RetentionAll drops the oldest results. Kept as the default name for
	// definitions that never tuned retention.
	RetentionAll Retention = "all"
	// RetentionRecent drops the oldest results, keeping the most recent
	// max_context_size.
	RetentionRecent Retention = "recent"
	// RetentionReferenced prefers dropping results no upcoming step still
	// references through an input back-reference.
	RetentionReferenced Retention = "referenced"
)

// Valid reports whether the retention mode is known.
func (r Retention) Valid() bool {
	switch r {
	case RetentionAll, RetentionRecent, RetentionReferenced:
		return true
	}
	return false
}

// Execution defaults applied by ApplyDefaults when the definition leaves the
// corresponding field unset.
const (
	DefaultMaxIterations  = 100
	DefaultMaxContextSize = 100
	DefaultMaxRetries     = 1

	DefaultMaxDuration   = 5 * time.Minute
	DefaultRetryDelay    = time.Second
	MaxRetryDelay        = 30 * time.Second
	DefaultStepTimeout   = time.Minute
	RetryDelayMultiplier = 2
)

// Workflow is the root of a weft workflow definition. The canonical encoding
// is a JSON document; YAML is accepted when loading from .yaml files.
type Workflow struct {
	// ID uniquely identifies the workflow. Required, non-empty.
	ID string `json:"id" yaml:"id"`
	// Description is free-form human documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Steps is the ordered list of workflow steps. At least one is required.
	Steps []*Step `json:"steps" yaml:"steps"`

	// MaxIterations bounds the number of engine loop turns. Default 100.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// MaxDuration bounds total wall-clock execution time. Default 5m.
	MaxDuration *Millis `json:"max_duration_ms,omitempty" yaml:"max_duration_ms,omitempty"`
	// MaxContextSize bounds how many step results the context retains. Default 100.
	MaxContextSize int `json:"max_context_size,omitempty" yaml:"max_context_size,omitempty"`
	// ContextRetention selects the pruning policy: all, recent or referenced.
	ContextRetention Retention `json:"context_retention,omitempty" yaml:"context_retention,omitempty"`
	// Debug enables verbose engine logging for this workflow.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
	// Trace records a per-step audit trail in the workflow result.
	Trace bool `json:"trace,omitempty" yaml:"trace,omitempty"`
	// InitialContext seeds the workflow input when the caller provides none.
	InitialContext map[string]interface{} `json:"initial_context,omitempty" yaml:"initial_context,omitempty"`

	// Internal fields for tracking
	SourceFile string   `json:"-" yaml:"-"`
	Position   Position `json:"-" yaml:"-"`
}

// Step is one node in the workflow graph, discriminated by Type.
type Step struct {
	// ID uniquely identifies the step within the workflow, including inside
	// parallel groups.
	ID string `json:"id" yaml:"id"`
	// Type is one of agent, transform, condition, approval, parallel.
	Type StepType `json:"type" yaml:"type"`

	// Next names the step to run after a success. Empty ends the workflow.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`
	// OnError names the step to run after a failure. Empty ends the workflow.
	OnError string `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	// Input is an explicit back-reference to a prior step whose data is
	// attached to this step's input under its own id.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`

	// MaxRetries is the number of retries after the first attempt. Default 1.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// RetryDelay is the initial backoff delay, doubled per attempt up to 30s.
	// Default 1000ms.
	RetryDelay *Millis `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	// Timeout bounds a single execution attempt. Default 60000ms.
	Timeout *Millis `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// Agent names the remote agent to drive. Required for agent steps.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Transform is a restricted pure expression producing the step's data.
	// Required for transform steps.
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	// Condition is a boolean expression. Required for condition steps.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Then names the step to run when the condition is truthy. Required for
	// condition steps.
	Then string `json:"then,omitempty" yaml:"then,omitempty"`
	// Else names the step to run when the condition is falsy.
	Else string `json:"else,omitempty" yaml:"else,omitempty"`

	// Message is the prompt shown for a human decision. Required for
	// approval steps.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// OnApprove names the step to run after an approval.
	OnApprove string `json:"on_approve,omitempty" yaml:"on_approve,omitempty"`
	// OnReject names the step to run after a rejection.
	OnReject string `json:"on_reject,omitempty" yaml:"on_reject,omitempty"`

	// Steps holds the children of a parallel group. Required, non-empty for
	// parallel steps.
	Steps []*Step `json:"steps,omitempty" yaml:"steps,omitempty"`
	// MinSuccess is how many children must succeed for the group to count as
	// successful. Defaults to all of them.
	MinSuccess *int `json:"min_success,omitempty" yaml:"min_success,omitempty"`

	Position Position `json:"-" yaml:"-"`
}

// ApplyDefaults fills unset execution limits with their documented defaults.
func (w *Workflow) ApplyDefaults() {
	if w.MaxIterations <= 0 {
		w.MaxIterations = DefaultMaxIterations
	}
	if w.MaxDuration == nil || w.MaxDuration.Duration <= 0 {
		w.MaxDuration = &Millis{Duration: DefaultMaxDuration}
	}
	if w.MaxContextSize <= 0 {
		w.MaxContextSize = DefaultMaxContextSize
	}
	if w.ContextRetention == "" {
		w.ContextRetention = RetentionAll
	}
}

// GetMaxRetries returns the retry budget after the first attempt.
func (s *Step) GetMaxRetries() int {
	if s.MaxRetries == nil || *s.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// GetRetryDelay returns the initial backoff delay between attempts.
func (s *Step) GetRetryDelay() time.Duration {
	if s.RetryDelay == nil || s.RetryDelay.Duration <= 0 {
		return DefaultRetryDelay
	}
	return s.RetryDelay.Duration
}

// GetTimeout returns the per-attempt timeout.
func (s *Step) GetTimeout() time.Duration {
	if s.Timeout == nil || s.Timeout.Duration <= 0 {
		return DefaultStepTimeout
	}
	return s.Timeout.Duration
}

// GetMinSuccess returns the success threshold for a parallel group,
// defaulting to all children.
func (s *Step) GetMinSuccess() int {
	if s.MinSuccess == nil {
		return len(s.Steps)
	}
	return *s.MinSuccess
}

// RoutingTargets returns every step id this step can route to. Input
// back-references are data dependencies, not routes, and are excluded.
func (s *Step) RoutingTargets() []string {
	var targets []string
	for _, id := range []string{s.Next, s.OnError, s.Then, s.Else, s.OnApprove, s.OnReject} {
		if id != "" {
			targets = append(targets, id)
		}
	}
	return targets
}

// ReferencedIDs returns every step id this step mentions, routing targets
// plus the input back-reference.
func (s *Step) ReferencedIDs() []string {
	ids := s.RoutingTargets()
	if s.Input != "" {
		ids = append(ids, s.Input)
	}
	return ids
}

// Millis wraps time.Duration with millisecond-integer JSON encoding. A
// quoted Go duration string such as "90s" is accepted on input for
// convenience; output is always a number of milliseconds.
type Millis struct {
	time.Duration
}

// UnmarshalJSON accepts either an integer millisecond count or a duration string.
func (m *Millis) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		m.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid duration value %s: expected milliseconds or a duration string", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format '%s': %w", s, err)
	}

	m.Duration = dur
	return nil
}

// MarshalJSON encodes the duration as integer milliseconds.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Duration.Milliseconds())
}

// UnmarshalYAML accepts either an integer millisecond count or a duration string.
func (m *Millis) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		m.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: expected milliseconds or a duration string")
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format '%s': %w", s, err)
	}

	m.Duration = dur
	return nil
}

// MarshalYAML encodes the duration as integer milliseconds.
func (m Millis) MarshalYAML() (interface{}, error) {
	return m.Duration.Milliseconds(), nil
}

// Ms returns the duration in whole milliseconds.
func (m Millis) Ms() int64 {
	return m.Duration.Milliseconds()
}
