package playbook

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlaybookNotFound is returned when a playbook is not found in the registry
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrExecutionNotFound is returned when an execution is not found in history
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrIncidentNotFound is returned when the referenced incident does not exist
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrExecutionNotRunning is returned when cancelling an execution that already finished
	ErrExecutionNotRunning = errors.New("execution is not running")

	// ErrUnknownActionType is returned by the registry for unregistered action types
	ErrUnknownActionType = errors.New("unknown action type")
)

// ValidationError reports why a playbook definition was rejected.
// Issues collects every problem found, not just the first.
type ValidationError struct {
	PlaybookName string
	Issues       []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("playbook %q is invalid: %s", e.PlaybookName, strings.Join(e.Issues, "; "))
}

// ConditionError reports a malformed step condition expression.
// Missing variables do not produce this error, only bad syntax does.
type ConditionError struct {
	Expression string
	Reason     string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("cannot evaluate condition %q: %s", e.Expression, e.Reason)
}

// ActionError wraps a failure raised while invoking an action handler.
// It is converted into a failed ActionResult at the dispatch boundary and
// never propagates out of the engine.
type ActionError struct {
	ActionType string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.ActionType, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError marks a step that failed after consuming every attempt
type RetryExhaustedError struct {
	StepName string
	Attempts int
	LastErr  string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempts: %s", e.StepName, e.Attempts, e.LastErr)
}
