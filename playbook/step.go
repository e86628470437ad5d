package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis/util/goroutine"
)

// Default retry pacing. The base units are fields on the Executor so the
// fast-path tests can shrink them without sleeping for real.
const (
	defaultFixedDelay      = 5 * time.Second
	defaultLinearUnit      = 5 * time.Second
	defaultExponentialUnit = 1 * time.Second
	defaultMaxBackoff      = 300 * time.Second
	defaultStepTimeout     = 5 * time.Minute
)

// computeBackoff returns the delay before the next attempt, given the
// attempt number that just failed (1-based). Fixed waits the base delay
// every time, linear multiplies it by the attempt number, exponential
// doubles starting from one unit. Results are clamped to max.
func computeBackoff(strategy BackoffStrategy, attempt int, fixed, linearUnit, expUnit, max time.Duration) time.Duration {
	var d time.Duration
	switch strategy {
	case BackoffLinear:
		d = linearUnit * time.Duration(attempt)
	case BackoffExponential:
		if attempt-1 >= 30 {
			return max
		}
		d = expUnit * time.Duration(1<<uint(attempt-1))
	default:
		d = fixed
	}
	if d < 0 || d > max {
		return max
	}
	return d
}

// runStep drives one step to a terminal StepResult: condition gate, then
// up to retry+1 attempts with backoff between failures. The run context
// only gates the backoff sleeps; each attempt gets its own timeout context
// detached from run cancellation so in-flight actions finish naturally.
func (e *Executor) runStep(runCtx context.Context, ec *ExecutionContext, step Step) StepResult {
	// Pending until the condition gate passes and the action phase starts
	result := StepResult{
		StepID:    step.ID,
		StepName:  step.Name,
		Status:    StepStatusPending,
		StartedAt: time.Now().UTC(),
	}

	finish := func(status StepStatus) StepResult {
		now := time.Now().UTC()
		result.Status = status
		result.CompletedAt = &now
		result.Duration = now.Sub(result.StartedAt)
		return result
	}

	if step.Condition != "" {
		ok, err := ec.EvaluateCondition(step.Condition)
		if err != nil {
			result.Error = err.Error()
			return finish(StepStatusFailed)
		}
		if !ok {
			// Condition false is not a failure and consumes no attempts
			return finish(StepStatusSkipped)
		}
	}

	result.Status = StepStatusRunning

	maxAttempts := step.Retry + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		actionResults, ok, errMsg := e.runAttempt(runCtx, ec, step)
		result.ActionResults = actionResults
		if ok {
			return finish(StepStatusSucceeded)
		}
		lastErr = errMsg

		if attempt < maxAttempts {
			delay := computeBackoff(step.Backoff, attempt, e.fixedDelay, e.linearUnit, e.expUnit, e.maxBackoff)
			e.logger.Debugw("Step attempt failed, backing off",
				"step", step.Name,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-runCtx.Done():
				// Cancelled mid-backoff: the next attempt never starts
				result.Error = lastErr
				return finish(StepStatusFailed)
			}
		}
	}

	if step.Retry > 0 {
		result.Error = (&RetryExhaustedError{StepName: step.Name, Attempts: result.Attempts, LastErr: lastErr}).Error()
	} else {
		result.Error = lastErr
	}
	return finish(StepStatusFailed)
}

// runAttempt performs one timed attempt of the step's action phase.
// Returns the action results, whether every action succeeded, and an error
// message on failure.
func (e *Executor) runAttempt(runCtx context.Context, ec *ExecutionContext, step Step) ([]ActionResult, bool, string) {
	timeout := time.Duration(step.Timeout)
	if timeout <= 0 {
		timeout = e.stepTimeout
	}

	// Detached from run cancellation: a cancelled run lets the attempt
	// in flight complete, it only stops new steps and backoff sleeps.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), timeout)
	defer cancel()

	done := make(chan []ActionResult, 1)
	go func() {
		defer goroutine.Recover("playbook-step-attempt", e.logger)
		done <- e.runActions(attemptCtx, ec, step)
	}()

	select {
	case results := <-done:
		for _, r := range results {
			if !r.Success {
				return results, false, r.Error
			}
		}
		if len(results) < len(step.Actions) {
			// Sequential phase stopped early; treat as failure even if
			// the recorded results all succeeded.
			return results, false, "action phase ended early"
		}
		return results, true, ""
	case <-attemptCtx.Done():
		return nil, false, fmt.Sprintf("step %q timed out after %s", step.Name, timeout)
	}
}

// runActions executes the step's actions, concurrently when the step is
// parallel, otherwise in order stopping at the first failure. Successful
// action outputs are merged into the context keyed by action index.
func (e *Executor) runActions(ctx context.Context, ec *ExecutionContext, step Step) []ActionResult {
	if step.Parallel {
		results := make([]ActionResult, len(step.Actions))
		var wg sync.WaitGroup
		for i, action := range step.Actions {
			wg.Add(1)
			go func(i int, action Action) {
				defer wg.Done()
				defer goroutine.Recover("playbook-parallel-action", e.logger)
				results[i] = e.registry.Execute(ctx, ec, action)
			}(i, action)
		}
		wg.Wait()
		for i, r := range results {
			if r.Success {
				ec.RecordActionOutput(step.ID, i, r.Output)
			}
		}
		return results
	}

	var results []ActionResult
	for i, action := range step.Actions {
		r := e.registry.Execute(ctx, ec, action)
		results = append(results, r)
		if !r.Success {
			break
		}
		ec.RecordActionOutput(step.ID, i, r.Output)
	}
	return results
}
