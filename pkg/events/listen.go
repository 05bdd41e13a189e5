// Package events defines the event stream a workflow run emits while it
// executes. The engine publishes one ExecutionEvent per lifecycle transition;
// listeners consume the stream to drive progress terminals, server-sent
// updates over websockets, or structured logs.
package events

import (
	"time"
)

// ExecutionEventType names a lifecycle transition within a workflow run.
type ExecutionEventType string

// Workflow-level events carry RunID and WorkflowID. Step-level events add
// StepID and StepType. The approval pair fires only for approval steps, in
// request/decision order.
const (
	EventWorkflowStarted   ExecutionEventType = "workflow_started"
	EventWorkflowCompleted ExecutionEventType = "workflow_completed"
	EventWorkflowFailed    ExecutionEventType = "workflow_failed"

	EventStepStarted ExecutionEventType = "step_started"
	// EventStepProgress reports activity inside a running step, for example
	// while an agent session is being polled.
	EventStepProgress  ExecutionEventType = "step_progress"
	EventStepCompleted ExecutionEventType = "step_completed"
	EventStepFailed    ExecutionEventType = "step_failed"
	// EventStepRetrying fires between a failed attempt and the next one,
	// after the backoff delay has been computed.
	EventStepRetrying ExecutionEventType = "step_retrying"

	EventApprovalRequested ExecutionEventType = "approval_requested"
	EventApprovalDecided   ExecutionEventType = "approval_decided"
)

// ExecutionEvent is one entry in a run's event stream. Type, Timestamp, and
// RunID are always set; the rest depends on the event type as noted below.
type ExecutionEvent struct {
	Type       ExecutionEventType `json:"type"`
	Timestamp  time.Time          `json:"timestamp"`
	RunID      string             `json:"run_id"`
	WorkflowID string             `json:"workflow_id,omitempty"`

	// StepID and StepType identify the step on step-scoped events.
	StepID   string `json:"step_id,omitempty"`
	StepType string `json:"step_type,omitempty"`

	// Iteration is the engine loop turn the event belongs to, 1-based.
	Iteration int `json:"iteration,omitempty"`

	// Attempt is the retry attempt that just failed, 1-based, set on
	// step_retrying events.
	Attempt int `json:"attempt,omitempty"`

	// Duration is how long the operation took, set on completion and
	// failure events.
	Duration time.Duration `json:"duration,omitempty"`

	// Error carries the failure message on failed events.
	Error string `json:"error,omitempty"`

	// Text is human-readable detail: spinner copy on started and progress
	// events, the prompt on approval_requested, the verdict on
	// approval_decided.
	Text string `json:"text,omitempty"`

	// Metadata holds event-specific values, such as total_steps on
	// workflow_started and approved on approval_decided.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Listener consumes a run's event stream. StartListening receives the
// channel before the first event is published. StopListening is called once
// the run settles and must not return until buffered events have been
// handled, so short runs lose nothing.
type Listener interface {
	StartListening(progressChan <-chan ExecutionEvent)
	StopListening()
}

// NoopListener discards the stream. The engine substitutes it when a caller
// passes a nil listener.
type NoopListener struct{}

func (n *NoopListener) StartListening(progressChan <-chan ExecutionEvent) {}

func (n *NoopListener) StopListening() {}
