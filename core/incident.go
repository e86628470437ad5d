package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// IncidentState represents where an incident is in its lifecycle
type IncidentState string

const (
	IncidentStateDetected      IncidentState = "detected"
	IncidentStateTriaged       IncidentState = "triaged"
	IncidentStateInvestigating IncidentState = "investigating"
	IncidentStateRemediating   IncidentState = "remediating"
	IncidentStateResolved      IncidentState = "resolved"
	IncidentStateClosed        IncidentState = "closed"
)

// ValidIncidentStates lists all accepted incident states
var ValidIncidentStates = []IncidentState{
	IncidentStateDetected,
	IncidentStateTriaged,
	IncidentStateInvestigating,
	IncidentStateRemediating,
	IncidentStateResolved,
	IncidentStateClosed,
}

// IsValid checks if the state is one of the known lifecycle states
func (s IncidentState) IsValid() bool {
	for _, v := range ValidIncidentStates {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the incident can no longer change
func (s IncidentState) IsTerminal() bool {
	return s == IncidentStateResolved || s == IncidentStateClosed
}

// Severity represents incident severity, P0 (most severe) through P4
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// ValidSeverities lists severities in priority order, most severe first
var ValidSeverities = []Severity{SeverityP0, SeverityP1, SeverityP2, SeverityP3, SeverityP4}

// IsValid checks if the severity is one of P0..P4
func (s Severity) IsValid() bool {
	for _, v := range ValidSeverities {
		if s == v {
			return true
		}
	}
	return false
}

// Priority returns the numeric priority (0 for P0 through 4 for P4).
// Unknown severities sort last.
func (s Severity) Priority() int {
	for i, v := range ValidSeverities {
		if s == v {
			return i
		}
	}
	return len(ValidSeverities)
}

// Increase returns the next more severe level, clamped at P0
func (s Severity) Increase() Severity {
	p := s.Priority()
	if p <= 0 {
		return SeverityP0
	}
	return ValidSeverities[p-1]
}

// Decrease returns the next less severe level, clamped at P4
func (s Severity) Decrease() Severity {
	p := s.Priority()
	if p >= len(ValidSeverities)-1 {
		return SeverityP4
	}
	return ValidSeverities[p+1]
}

// IncidentType categorizes what kind of system failure an incident describes
type IncidentType string

const (
	IncidentTypeInfrastructure IncidentType = "infrastructure"
	IncidentTypeApplication    IncidentType = "application"
	IncidentTypeSecurity       IncidentType = "security"
	IncidentTypeData           IncidentType = "data"
	IncidentTypePerformance    IncidentType = "performance"
	IncidentTypeAvailability   IncidentType = "availability"
	IncidentTypeCompliance     IncidentType = "compliance"
	IncidentTypeUnknown        IncidentType = "unknown"
)

// ValidIncidentTypes lists all accepted incident types
var ValidIncidentTypes = []IncidentType{
	IncidentTypeInfrastructure,
	IncidentTypeApplication,
	IncidentTypeSecurity,
	IncidentTypeData,
	IncidentTypePerformance,
	IncidentTypeAvailability,
	IncidentTypeCompliance,
	IncidentTypeUnknown,
}

// IsValid checks if the type is one of the known categories
func (t IncidentType) IsValid() bool {
	for _, v := range ValidIncidentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TimelineEvent is a single entry in an incident's audit timeline
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Actor       string    `json:"actor,omitempty"`
}

// Resolution captures how an incident was resolved
type Resolution struct {
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by"`
	Method     string    `json:"method,omitempty"`
	RootCause  string    `json:"root_cause,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Incident is the central domain object playbooks act upon
type Incident struct {
	ID                string            `json:"id" validate:"required"`
	Title             string            `json:"title" validate:"required,min=1,max=512"`
	Description       string            `json:"description,omitempty"`
	State             IncidentState     `json:"state" validate:"required"`
	Severity          Severity          `json:"severity" validate:"required"`
	Type              IncidentType      `json:"type" validate:"required"`
	Source            string            `json:"source" validate:"required"`
	AffectedResources []string          `json:"affected_resources,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Assignees         []string          `json:"assignees,omitempty"`
	Timeline          []TimelineEvent   `json:"timeline,omitempty"`
	Resolution        *Resolution       `json:"resolution,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

var incidentValidator = validator.New()

// NewIncident creates an incident in the detected state with a fresh ID
func NewIncident(title, source string, severity Severity, incidentType IncidentType) *Incident {
	now := time.Now().UTC()
	inc := &Incident{
		ID:        uuid.New().String(),
		Title:     title,
		State:     IncidentStateDetected,
		Severity:  severity,
		Type:      incidentType,
		Source:    source,
		Labels:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	inc.AddTimelineEvent("created", fmt.Sprintf("Incident detected from source %q", source), "")
	return inc
}

// Validate checks structural validity and enum membership
func (i *Incident) Validate() error {
	if err := incidentValidator.Struct(i); err != nil {
		return err
	}
	if !i.State.IsValid() {
		return fmt.Errorf("invalid incident state: %q", i.State)
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", i.Severity)
	}
	if !i.Type.IsValid() {
		return fmt.Errorf("invalid incident type: %q", i.Type)
	}
	return nil
}

// AddTimelineEvent appends an event to the incident's timeline
func (i *Incident) AddTimelineEvent(eventType, description, actor string) {
	i.Timeline = append(i.Timeline, TimelineEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		Description: description,
		Actor:       actor,
	})
	i.UpdatedAt = time.Now().UTC()
}

// ErrInvalidStateTransition is returned when an incident state change is not allowed
var ErrInvalidStateTransition = errors.New("invalid incident state transition")

// UpdateState moves the incident to a new state and records the transition
func (i *Incident) UpdateState(newState IncidentState, actor string) error {
	if !newState.IsValid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStateTransition, newState)
	}
	if i.State.IsTerminal() && !newState.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, i.State, newState)
	}
	old := i.State
	i.State = newState
	i.AddTimelineEvent("state_changed", fmt.Sprintf("State changed from %s to %s", old, newState), actor)
	return nil
}

// SetSeverity changes severity and records it on the timeline
func (i *Incident) SetSeverity(newSeverity Severity, actor string) {
	if newSeverity == i.Severity {
		return
	}
	old := i.Severity
	i.Severity = newSeverity
	i.AddTimelineEvent("severity_changed", fmt.Sprintf("Severity changed from %s to %s", old, newSeverity), actor)
}

// Resolve marks the incident resolved and records the resolution details
func (i *Incident) Resolve(resolvedBy, method, rootCause, notes string) error {
	if err := i.UpdateState(IncidentStateResolved, resolvedBy); err != nil {
		return err
	}
	i.Resolution = &Resolution{
		ResolvedAt: time.Now().UTC(),
		ResolvedBy: resolvedBy,
		Method:     method,
		RootCause:  rootCause,
		Notes:      notes,
	}
	return nil
}

// IsActive reports whether the incident still needs attention
func (i *Incident) IsActive() bool {
	return !i.State.IsTerminal()
}

// IsCritical reports whether the incident is P0 or P1
func (i *Incident) IsCritical() bool {
	return i.Severity == SeverityP0 || i.Severity == SeverityP1
}
