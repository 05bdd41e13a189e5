package events

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/style"

	pkgEvents "github.com/weftai/weft/pkg/events"
)

func NewWorkflowStartedEvent(workflowID, runID string, totalSteps int) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:       pkgEvents.EventWorkflowStarted,
		Timestamp:  time.Now(),
		RunID:      runID,
		WorkflowID: workflowID,
		Metadata: map[string]interface{}{
			"total_steps": totalSteps,
		},
	}
}

func NewWorkflowCompletedEvent(workflowID, runID string, duration time.Duration) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:       pkgEvents.EventWorkflowCompleted,
		Timestamp:  time.Now(),
		RunID:      runID,
		WorkflowID: workflowID,
		Duration:   duration,
	}
}

func NewWorkflowFailedEvent(workflowID, runID string, duration time.Duration, err error) pkgEvents.ExecutionEvent {
	event := pkgEvents.ExecutionEvent{
		Type:       pkgEvents.EventWorkflowFailed,
		Timestamp:  time.Now(),
		RunID:      runID,
		WorkflowID: workflowID,
		Duration:   duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func NewStepStartedEvent(step *ast.Step, runID string, iteration int) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventStepStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Iteration: iteration,
		Text:      stepStartedText(step),
	}
}

func NewStepCompletedEvent(step *ast.Step, runID string, iteration int, duration time.Duration) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventStepCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Iteration: iteration,
		Duration:  duration,
	}
}

func NewStepFailedEvent(step *ast.Step, runID string, iteration int, duration time.Duration, errMsg string) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventStepFailed,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Iteration: iteration,
		Duration:  duration,
		Error:     errMsg,
	}
}

func NewStepRetryingEvent(step *ast.Step, runID string, attempt int, delay time.Duration) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventStepRetrying,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Attempt:   attempt,
		Text:      fmt.Sprintf("retrying in %s", delay),
	}
}

func NewAgentPollingEvent(stepID, agent, runID string) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventStepProgress,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    stepID,
		Text:      generateRandomWaitingText(agent),
	}
}

func NewApprovalRequestedEvent(step *ast.Step, runID string, message string) pkgEvents.ExecutionEvent {
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventApprovalRequested,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Text:      message,
	}
}

func NewApprovalDecidedEvent(step *ast.Step, runID string, approved bool) pkgEvents.ExecutionEvent {
	text := "rejected"
	if approved {
		text = "approved"
	}
	return pkgEvents.ExecutionEvent{
		Type:      pkgEvents.EventApprovalDecided,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    step.ID,
		StepType:  string(step.Type),
		Text:      text,
		Metadata: map[string]interface{}{
			"approved": approved,
		},
	}
}

func stepStartedText(step *ast.Step) string {
	switch step.Type {
	case ast.StepAgent:
		return generateRandomWaitingText(step.Agent)
	case ast.StepTransform:
		return "Reshaping the data..."
	case ast.StepCondition:
		return "Weighing the options..."
	case ast.StepApproval:
		return "Waiting for a human touch..."
	case ast.StepParallel:
		return fmt.Sprintf("Fanning out %d steps...", len(step.Steps))
	default:
		return ""
	}
}

func generateRandomWaitingText(rawAgent string) string {
	agent := style.InfoStyle.Render(rawAgent)

	waitingTexts := []string{
		fmt.Sprintf("Pondering the mysteries of the universe with %s...", agent),
		fmt.Sprintf("Waiting for %s to fire all its neurons...", agent),
		fmt.Sprintf("Channeling digital wisdom from %s...", agent),
		fmt.Sprintf("Letting %s juggle some ones and zeros...", agent),
		fmt.Sprintf("Watching %s paint with pixels of possibility...", agent),
		fmt.Sprintf("Giving %s room to roll the dice of creativity...", agent),
		fmt.Sprintf("Waiting while %s composes a symphony of words...", agent),
		fmt.Sprintf("Letting %s surf the waves of information...", agent),
		fmt.Sprintf("Watching %s perform mental acrobatics...", agent),
		fmt.Sprintf("Waiting for %s to brew the perfect response...", agent),
		fmt.Sprintf("Letting %s dream in binary...", agent),
		fmt.Sprintf("Watching %s sketch ideas in the digital ether...", agent),
	}

	return waitingTexts[rand.Intn(len(waitingTexts))]
}
