package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aegis/core"
	"aegis/metrics"
)

// ExecutionSink receives execution progress as it happens. The Service's
// history implements this; all values passed in are safe to retain.
type ExecutionSink interface {
	ExecutionStarted(exec *Execution)
	StepCompleted(executionID string, stepIndex int, result StepResult)
	ExecutionFinished(exec *Execution)
}

// nopSink discards all progress events
type nopSink struct{}

func (nopSink) ExecutionStarted(*Execution)           {}
func (nopSink) StepCompleted(string, int, StepResult) {}
func (nopSink) ExecutionFinished(*Execution)          {}

// Executor runs playbooks against incidents. Steps run strictly in order;
// a bounded semaphore caps how many playbook runs are in flight at once.
type Executor struct {
	registry *Registry
	sink     ExecutionSink
	logger   *zap.SugaredLogger

	executionSem chan struct{}

	// retry pacing, overridable in tests
	fixedDelay  time.Duration
	linearUnit  time.Duration
	expUnit     time.Duration
	maxBackoff  time.Duration
	stepTimeout time.Duration
}

// NewExecutor creates an executor over the given action registry.
// maxConcurrent bounds simultaneous playbook runs; values below 1 fall
// back to 10.
func NewExecutor(registry *Registry, sink ExecutionSink, maxConcurrent int, logger *zap.SugaredLogger) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Executor{
		registry:     registry,
		sink:         sink,
		logger:       logger,
		executionSem: make(chan struct{}, maxConcurrent),
		fixedDelay:   defaultFixedDelay,
		linearUnit:   defaultLinearUnit,
		expUnit:      defaultExponentialUnit,
		maxBackoff:   defaultMaxBackoff,
		stepTimeout:  defaultStepTimeout,
	}
}

// Execute runs the playbook against the incident and returns the finished
// execution record. Action and step failures are recorded on the
// execution, not returned as errors; the error return covers only not
// being able to start (context already cancelled while waiting for a
// concurrency slot).
//
// Cancellation is cooperative at step boundaries: cancelling ctx stops
// new steps and backoff sleeps, while the attempt in flight completes
// naturally.
// An empty execID gets a generated one; the Service pre-generates IDs so
// cancellation can be registered before the run starts.
func (e *Executor) Execute(ctx context.Context, execID string, pb *Playbook, inc *core.Incident, triggeredBy string) (*Execution, error) {
	select {
	case e.executionSem <- struct{}{}:
		defer func() { <-e.executionSem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for execution slot: %w", ctx.Err())
	}

	if execID == "" {
		execID = generateExecutionID()
	}
	exec := &Execution{
		ID:          execID,
		PlaybookID:  pb.ID,
		IncidentID:  incidentID(inc),
		Status:      ExecutionStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
	}

	e.logger.Infow("Playbook execution started",
		"execution_id", exec.ID,
		"playbook_id", pb.ID,
		"playbook", pb.Name,
		"incident_id", exec.IncidentID,
		"triggered_by", triggeredBy)
	e.sink.ExecutionStarted(exec)
	metrics.PlaybookExecutionsStarted.Inc()

	ec := NewExecutionContext(pb, inc)

	for i, step := range pb.Steps {
		if ctx.Err() != nil {
			e.finish(exec, ExecutionStatusCancelled, "execution cancelled")
			return exec, nil
		}

		exec.CurrentStep = i
		result := e.runStep(ctx, ec, step)
		exec.StepResults = append(exec.StepResults, result)
		e.sink.StepCompleted(exec.ID, i, result)
		metrics.PlaybookStepsTotal.WithLabelValues(string(result.Status)).Inc()

		// Cancellation wins over failure when both apply at a boundary
		if ctx.Err() != nil {
			e.finish(exec, ExecutionStatusCancelled, "execution cancelled")
			return exec, nil
		}
		if result.Status == StepStatusFailed {
			e.finish(exec, ExecutionStatusFailed, fmt.Sprintf("step %q failed: %s", step.Name, result.Error))
			return exec, nil
		}
	}

	e.finish(exec, ExecutionStatusCompleted, "")
	return exec, nil
}

func (e *Executor) finish(exec *Execution, status ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	exec.Status = status
	exec.Error = errMsg
	exec.CompletedAt = &now

	duration := now.Sub(exec.StartedAt)
	metrics.PlaybookExecutionsTotal.WithLabelValues(string(status)).Inc()
	metrics.PlaybookExecutionDuration.Observe(duration.Seconds())

	switch status {
	case ExecutionStatusCompleted:
		e.logger.Infow("Playbook execution completed",
			"execution_id", exec.ID, "duration", duration)
	case ExecutionStatusCancelled:
		e.logger.Infow("Playbook execution cancelled",
			"execution_id", exec.ID, "completed_steps", len(exec.StepResults))
	default:
		e.logger.Warnw("Playbook execution failed",
			"execution_id", exec.ID, "error", errMsg)
	}
	e.sink.ExecutionFinished(exec)
}

func incidentID(inc *core.Incident) string {
	if inc == nil {
		return ""
	}
	return inc.ID
}

func generateExecutionID() string {
	return "exec-" + uuid.New().String()
}
