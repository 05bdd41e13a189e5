package wferrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFound("agent", "reviewer", []string{"planner", "coder"}, "check agents_dir in your config")

	assert.Contains(t, err.Error(), `agent "reviewer" not found`)
	assert.Contains(t, err.Error(), "planner, coder")
	assert.Contains(t, err.Error(), "check agents_dir")

	var nf *NotFoundError
	wrapped := fmt.Errorf("resolving step: %w", err)
	assert.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "reviewer", nf.Name)
}

func TestMissingFieldError(t *testing.T) {
	err := &MissingFieldError{
		Component: "validator",
		StepID:    "deploy",
		Field:     "agent",
		Available: []string{"id", "type", "next"},
	}

	assert.Contains(t, err.Error(), `step "deploy"`)
	assert.Contains(t, err.Error(), `"agent"`)
	assert.Contains(t, err.Error(), "id, type, next")
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{
		Scope:    ScopePoll,
		Elapsed:  90 * time.Second,
		Limit:    time.Minute,
		Attempts: 60,
	}

	assert.Contains(t, err.Error(), "poll timeout")
	assert.Contains(t, err.Error(), "60 attempts")
}

func TestNetworkErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NetworkError{Operation: "session status poll", Consecutive: 3, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 consecutive failures")
}

func TestGuardErrorAnnotated(t *testing.T) {
	err := &GuardError{
		Guard:      "iteration-limit",
		WorkflowID: "release",
		StepID:     "loop",
		Iteration:  101,
		Reason:     "workflow exceeded maximum iterations (100)",
	}

	assert.Contains(t, err.Error(), "iteration-limit")
	assert.Contains(t, err.Error(), "workflow release")
	assert.Contains(t, err.Error(), "iteration 101")
}

func TestCleanupErrorNonNil(t *testing.T) {
	cause := errors.New("503 service unavailable")
	err := &CleanupError{SessionID: "ses_123", Attempts: 3, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ses_123")
	assert.Contains(t, err.Error(), "after 3 attempts")
}
