// Package wferrors defines the tagged error taxonomy used across workflow
// execution. Engine code matches on these types with errors.As rather than
// inspecting message text.
package wferrors

import (
	"fmt"
	"strings"
	"time"
)

// TimeoutScope identifies which budget a timeout exhausted.
type TimeoutScope string

const (
	ScopeStep     TimeoutScope = "step"
	ScopePoll     TimeoutScope = "poll"
	ScopeWorkflow TimeoutScope = "workflow"
)

// NotFoundError reports a lookup miss for an agent, step id, executor kind or
// workflow. Available names are included so the message is actionable.
type NotFoundError struct {
	Resource  string
	Name      string
	Available []string
	Hint      string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Resource, e.Name)
	if len(e.Available) > 0 {
		msg = fmt.Sprintf("%s (available: %s)", msg, strings.Join(e.Available, ", "))
	}
	if e.Hint != "" {
		msg = fmt.Sprintf("%s. %s", msg, e.Hint)
	}
	return msg
}

// NewNotFound creates a NotFoundError.
func NewNotFound(resource, name string, available []string, hint string) *NotFoundError {
	return &NotFoundError{Resource: resource, Name: name, Available: available, Hint: hint}
}

// MissingFieldError reports a required field absent from a step or workflow.
type MissingFieldError struct {
	Component string
	StepID    string
	Field     string
	Available []string
}

func (e *MissingFieldError) Error() string {
	msg := fmt.Sprintf("%s: step %q is missing required field %q", e.Component, e.StepID, e.Field)
	if e.StepID == "" {
		msg = fmt.Sprintf("%s: missing required field %q", e.Component, e.Field)
	}
	if len(e.Available) > 0 {
		msg = fmt.Sprintf("%s (present fields: %s)", msg, strings.Join(e.Available, ", "))
	}
	return msg
}

// InvalidValueError reports a well-formed but unacceptable value, such as
// min_success exceeding the child count or a forbidden expression token.
type InvalidValueError struct {
	Where string
	What  string
	Why   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: invalid value %s: %s", e.Where, e.What, e.Why)
}

// CircularDependencyError reports a reference cycle in the workflow graph.
type CircularDependencyError struct {
	Field string
	Path  []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency via %s: %s", e.Field, strings.Join(e.Path, " -> "))
}

// TimeoutError reports an exhausted time budget.
type TimeoutError struct {
	Scope    TimeoutScope
	Elapsed  time.Duration
	Limit    time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timeout after %s (limit %s)", e.Scope, e.Elapsed.Round(time.Millisecond), e.Limit)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s, %d attempts", msg, e.Attempts)
	}
	return msg
}

// NetworkError reports a transport failure, tracking consecutive occurrences
// for the polling loop's tolerance window.
type NetworkError struct {
	Operation   string
	Consecutive int
	Cause       error
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("network failure during %s", e.Operation)
	if e.Consecutive > 1 {
		msg = fmt.Sprintf("%s (%d consecutive failures)", msg, e.Consecutive)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// GuardError reports a safety guard terminating the workflow. The engine
// annotates it with the execution position before surfacing it.
type GuardError struct {
	Guard      string
	WorkflowID string
	StepID     string
	Iteration  int
	Reason     string
}

func (e *GuardError) Error() string {
	msg := fmt.Sprintf("guard %q failed: %s", e.Guard, e.Reason)
	if e.WorkflowID != "" {
		msg = fmt.Sprintf("%s (workflow %s, step %s, iteration %d)", msg, e.WorkflowID, e.StepID, e.Iteration)
	}
	return msg
}

// AgentError reports a failure surfaced by the session service's own error
// status for an agent run.
type AgentError struct {
	Agent     string
	SessionID string
	Message   string
}

func (e *AgentError) Error() string {
	msg := fmt.Sprintf("agent %q failed: %s", e.Agent, e.Message)
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	return msg
}

// CleanupError reports a failed session deletion. It is never fatal; callers
// log it and record the leaked session id.
type CleanupError struct {
	SessionID string
	Attempts  int
	Cause     error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("session %s cleanup failed after %d attempts: %v", e.SessionID, e.Attempts, e.Cause)
}

func (e *CleanupError) Unwrap() error { return e.Cause }
