package engine

import (
	"context"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/events"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

// StepFunc is one attempt of a step body. Implementations must observe ctx,
// which carries the per-attempt timeout.
type StepFunc func(ctx context.Context) (interface{}, error)

type emitFunc func(event pkgEvents.ExecutionEvent)

// executeWithRetry runs body under the shared retry contract: up to
// GetMaxRetries extra attempts after the first, exponential backoff starting
// at GetRetryDelay and doubling up to MaxRetryDelay, and a fresh GetTimeout
// deadline per attempt. A timed-out attempt counts as a failed attempt.
// Cancellation of the parent context stops the attempt loop immediately.
//
// The returned result spans all attempts: StartTime to EndTime covers
// backoff sleeps, and Retries is the index of the last attempt made.
func executeWithRetry(rc execcontext.RunContext, step *ast.Step, runID string, emit emitFunc, body StepFunc) *execcontext.StepResult {
	maxRetries := step.GetMaxRetries()
	delay := step.GetRetryDelay()
	timeout := step.GetTimeout()

	start := time.Now()
	retries := 0
	var lastErr error

	for attempt := 0; ; {
		data, err := runAttempt(rc.Context, timeout, attempt, body)
		retries = attempt
		if err == nil {
			result := execcontext.NewStepResult(step.ID, data)
			stampResult(result, start, retries)
			return result
		}
		lastErr = err

		// A cancelled run never retries, and neither does an exhausted
		// budget.
		if rc.Context.Err() != nil || attempt >= maxRetries {
			break
		}

		attempt++
		emit(events.NewStepRetryingEvent(step, runID, attempt, delay))
		if !sleepContext(rc.Context, delay) {
			break
		}
		delay *= ast.RetryDelayMultiplier
		if delay > ast.MaxRetryDelay {
			delay = ast.MaxRetryDelay
		}
	}

	result := execcontext.NewStepFailure(step.ID, lastErr)
	stampResult(result, start, retries)
	return result
}

// runAttempt runs one attempt of body with its own timeout. The body runs in
// a goroutine so a deadline can cut the attempt short even when the body does
// not check ctx promptly; a late completion is discarded.
func runAttempt(parent context.Context, timeout time.Duration, attempt int, body StepFunc) (interface{}, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)
	attemptStart := time.Now()
	go func() {
		data, err := body(ctx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, &wferrors.TimeoutError{
			Scope:    wferrors.ScopeStep,
			Elapsed:  time.Since(attemptStart),
			Limit:    timeout,
			Attempts: attempt + 1,
		}
	}
}

func stampResult(result *execcontext.StepResult, start time.Time, retries int) {
	result.Retries = retries
	result.StartTime = start
	result.EndTime = time.Now()
	result.Duration = ast.Millis{Duration: result.EndTime.Sub(start)}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
