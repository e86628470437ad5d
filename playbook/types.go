package playbook

import (
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// Duration wraps time.Duration for JSON payloads. It marshals as a
// duration string ("30s", "1m30s") and unmarshals either a duration
// string or an integer nanosecond count.
type Duration time.Duration

// MarshalJSON encodes the duration in time.Duration string form
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration string or a nanosecond number
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// BackoffStrategy controls how retry delays grow between attempts
type BackoffStrategy string

const (
	// BackoffFixed waits the same base delay before every retry
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear waits base delay multiplied by the attempt number
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential doubles the delay with each attempt
	BackoffExponential BackoffStrategy = "exponential"
)

// IsValid checks if the strategy is one of the known backoff modes
func (b BackoffStrategy) IsValid() bool {
	switch b {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// Action types understood by the default registry
const (
	ActionTypeSlack            = "notify_slack"
	ActionTypeEmail            = "notify_email"
	ActionTypePagerDuty        = "notify_pagerduty"
	ActionTypeWebhook          = "call_webhook"
	ActionTypeHTTPRequest      = "http_request"
	ActionTypeWait             = "wait"
	ActionTypeResolveIncident  = "resolve_incident"
	ActionTypeIncreaseSeverity = "increase_severity"
	ActionTypeDecreaseSeverity = "decrease_severity"
)

// ExecutionStatus is the terminal or in-flight state of a playbook run
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution can no longer change status
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StepStatus is the state of a single step within an execution
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Triggers describes which incidents a playbook applies to.
// An empty dimension matches everything.
type Triggers struct {
	Severities []core.Severity     `json:"severities,omitempty"`
	Types      []core.IncidentType `json:"types,omitempty"`
	Sources    []string            `json:"sources,omitempty"`
}

// Action is a single unit of work inside a step
type Action struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	// OnSuccess and OnFailure are advisory routing hints recorded on the
	// playbook; step order remains authoritative for execution.
	OnSuccess string `json:"on_success,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`
}

// Step is an ordered stage of a playbook
type Step struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Actions     []Action `json:"actions"`
	// Parallel runs all actions concurrently; the step succeeds only if
	// every action succeeds.
	Parallel bool `json:"parallel,omitempty"`
	// Condition gates the step. Empty means always run.
	Condition string `json:"condition,omitempty"`
	// Retry is the number of additional attempts after the first failure.
	Retry   int             `json:"retry,omitempty"`
	Backoff BackoffStrategy `json:"backoff,omitempty"`
	// Timeout bounds a single attempt. Zero means the engine default.
	Timeout Duration `json:"timeout,omitempty"`
}

// Playbook is an ordered automation recipe bound to incident triggers
type Playbook struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Version     int                    `json:"version"`
	Owner       string                 `json:"owner,omitempty"`
	Enabled     bool                   `json:"enabled"`
	AutoExecute bool                   `json:"auto_execute"`
	Triggers    Triggers               `json:"triggers"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	Steps       []Step                 `json:"steps"`
	Tags        []string               `json:"tags,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Matches reports whether this playbook applies to the incident.
// Disabled playbooks never match; an empty trigger dimension is a wildcard.
func (p *Playbook) Matches(inc *core.Incident) bool {
	if !p.Enabled || inc == nil {
		return false
	}
	if len(p.Triggers.Severities) > 0 && !containsSeverity(p.Triggers.Severities, inc.Severity) {
		return false
	}
	if len(p.Triggers.Types) > 0 && !containsType(p.Triggers.Types, inc.Type) {
		return false
	}
	if len(p.Triggers.Sources) > 0 && !containsString(p.Triggers.Sources, inc.Source) {
		return false
	}
	return true
}

func containsSeverity(list []core.Severity, s core.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []core.IncidentType, t core.IncidentType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ActionResult is the outcome of a single action invocation.
// Action failures are recorded here, they are not engine faults.
type ActionResult struct {
	ActionType string                 `json:"action_type"`
	Success    bool                   `json:"success"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

// StepResult is the recorded outcome of one step within an execution
type StepResult struct {
	StepID        string         `json:"step_id"`
	StepName      string         `json:"step_name"`
	Status        StepStatus     `json:"status"`
	Attempts      int            `json:"attempts"`
	ActionResults []ActionResult `json:"action_results,omitempty"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Execution is one run of a playbook against one incident
type Execution struct {
	ID          string          `json:"id"`
	PlaybookID  string          `json:"playbook_id"`
	IncidentID  string          `json:"incident_id"`
	Status      ExecutionStatus `json:"status"`
	TriggeredBy string          `json:"triggered_by"`
	CurrentStep int             `json:"current_step"`
	StepResults []StepResult    `json:"step_results,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Stats summarizes registry and execution history state
type Stats struct {
	TotalPlaybooks       int  `json:"total_playbooks"`
	EnabledPlaybooks     int  `json:"enabled_playbooks"`
	AutoExecuteEnabled   bool `json:"auto_execute_enabled"`
	AutoExecutePlaybooks int  `json:"auto_execute_playbooks"`
	TotalExecutions      int  `json:"total_executions"`
	RunningExecutions    int  `json:"running_executions"`
	SucceededExecutions  int  `json:"succeeded_executions"`
	FailedExecutions     int  `json:"failed_executions"`
	CancelledExecutions  int  `json:"cancelled_executions"`
}
