package playbook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aegis/core"
	"aegis/util/goroutine"
)

// PlaybookArchive persists playbook definitions across restarts.
// Implemented by the storage package; optional.
type PlaybookArchive interface {
	SavePlaybook(pb *Playbook) error
	DeletePlaybook(id string) error
	ListPlaybooks() ([]*Playbook, error)
}

// ExecutionArchive persists terminal execution records. Optional.
type ExecutionArchive interface {
	SaveExecution(exec *Execution) error
	ListExecutionsByIncident(incidentID string) ([]*Execution, error)
}

// ServiceOption customizes Service construction
type ServiceOption func(*Service)

// WithPlaybookArchive enables write-through persistence of playbooks
func WithPlaybookArchive(a PlaybookArchive) ServiceOption {
	return func(s *Service) { s.playbookArchive = a }
}

// WithExecutionArchive enables persistence of terminal executions
func WithExecutionArchive(a ExecutionArchive) ServiceOption {
	return func(s *Service) { s.executionArchive = a }
}

// WithMaxConcurrentExecutions bounds simultaneous playbook runs
func WithMaxConcurrentExecutions(n int) ServiceOption {
	return func(s *Service) { s.maxConcurrent = n }
}

// WithDefaultStepTimeout overrides the per-attempt timeout applied to
// steps that do not set their own.
func WithDefaultStepTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.stepTimeout = d }
}

// WithAutoExecute turns service-wide automatic execution on or off.
// When disabled, AutoExecute runs nothing regardless of how playbooks
// are flagged. Enabled by default.
func WithAutoExecute(enabled bool) ServiceOption {
	return func(s *Service) { s.autoExecute = enabled }
}

// Service owns the playbook registry, runs executions, and keeps their
// history. All methods are safe for concurrent use.
type Service struct {
	mu         sync.RWMutex
	playbooks  map[string]*Playbook
	executions map[string]*Execution
	byIncident map[string][]string
	cancels    map[string]context.CancelFunc

	executor  *Executor
	registry  *Registry
	incidents IncidentStore
	logger    *zap.SugaredLogger

	playbookArchive  PlaybookArchive
	executionArchive ExecutionArchive
	maxConcurrent    int
	stepTimeout      time.Duration
	autoExecute      bool
}

// NewService creates the playbook service. The registry supplies action
// handlers, incidents resolves incident IDs for execution.
func NewService(registry *Registry, incidents IncidentStore, logger *zap.SugaredLogger, opts ...ServiceOption) *Service {
	s := &Service{
		playbooks:     make(map[string]*Playbook),
		executions:    make(map[string]*Execution),
		byIncident:    make(map[string][]string),
		cancels:       make(map[string]context.CancelFunc),
		registry:      registry,
		incidents:     incidents,
		logger:        logger,
		maxConcurrent: 10,
		autoExecute:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.executor = NewExecutor(registry, s, s.maxConcurrent, logger)
	if s.stepTimeout > 0 {
		s.executor.stepTimeout = s.stepTimeout
	}
	return s
}

// LoadArchivedPlaybooks restores playbooks persisted by a previous run.
// Invalid archived entries are skipped with a warning.
func (s *Service) LoadArchivedPlaybooks() error {
	if s.playbookArchive == nil {
		return nil
	}
	archived, err := s.playbookArchive.ListPlaybooks()
	if err != nil {
		return fmt.Errorf("loading archived playbooks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, pb := range archived {
		if issues := s.validatePlaybook(pb); len(issues) > 0 {
			s.logger.Warnw("Skipping invalid archived playbook",
				"playbook_id", pb.ID, "issues", strings.Join(issues, "; "))
			continue
		}
		s.playbooks[pb.ID] = pb
		loaded++
	}
	s.logger.Infow("Playbooks restored from archive", "count", loaded)
	return nil
}

// CreatePlaybook validates and registers a playbook, assigning an ID when
// none is given. Returns *ValidationError listing every problem found.
func (s *Service) CreatePlaybook(pb *Playbook) (*Playbook, error) {
	if pb == nil {
		return nil, &ValidationError{Issues: []string{"playbook is required"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if issues := s.validatePlaybook(pb); len(issues) > 0 {
		return nil, &ValidationError{PlaybookName: pb.Name, Issues: issues}
	}

	stored := copyPlaybook(pb)
	if stored.ID == "" {
		stored.ID = generatePlaybookID()
	}
	if _, exists := s.playbooks[stored.ID]; exists {
		return nil, &ValidationError{PlaybookName: pb.Name,
			Issues: []string{fmt.Sprintf("playbook id %q already exists", stored.ID)}}
	}
	if stored.Version == 0 {
		stored.Version = 1
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	assignStepIDs(stored)

	s.playbooks[stored.ID] = stored
	s.archivePlaybook(stored)

	s.logger.Infow("Playbook created",
		"playbook_id", stored.ID, "name", stored.Name, "steps", len(stored.Steps))
	return copyPlaybook(stored), nil
}

// GetPlaybook returns a copy of the playbook with the given ID
func (s *Service) GetPlaybook(id string) (*Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pb, ok := s.playbooks[id]
	if !ok {
		return nil, ErrPlaybookNotFound
	}
	return copyPlaybook(pb), nil
}

// ListPlaybooks returns copies of all registered playbooks, sorted by name
func (s *Service) ListPlaybooks() []*Playbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Playbook, 0, len(s.playbooks))
	for _, pb := range s.playbooks {
		out = append(out, copyPlaybook(pb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdatePlaybook replaces an existing playbook's definition, bumping its
// version. Creation time is preserved.
func (s *Service) UpdatePlaybook(id string, pb *Playbook) (*Playbook, error) {
	if pb == nil {
		return nil, &ValidationError{Issues: []string{"playbook is required"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.playbooks[id]
	if !ok {
		return nil, ErrPlaybookNotFound
	}
	if issues := s.validatePlaybook(pb); len(issues) > 0 {
		return nil, &ValidationError{PlaybookName: pb.Name, Issues: issues}
	}

	stored := copyPlaybook(pb)
	stored.ID = id
	stored.CreatedAt = existing.CreatedAt
	stored.Version = existing.Version + 1
	stored.UpdatedAt = time.Now().UTC()
	assignStepIDs(stored)

	s.playbooks[id] = stored
	s.archivePlaybook(stored)

	s.logger.Infow("Playbook updated", "playbook_id", id, "version", stored.Version)
	return copyPlaybook(stored), nil
}

// DeletePlaybook removes a playbook from the registry
func (s *Service) DeletePlaybook(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playbooks[id]; !ok {
		return ErrPlaybookNotFound
	}
	delete(s.playbooks, id)
	if s.playbookArchive != nil {
		if err := s.playbookArchive.DeletePlaybook(id); err != nil {
			s.logger.Errorw("Failed to delete archived playbook", "playbook_id", id, "error", err)
		}
	}
	s.logger.Infow("Playbook deleted", "playbook_id", id)
	return nil
}

// FindMatching returns copies of every enabled playbook whose triggers
// match the incident.
func (s *Service) FindMatching(inc *core.Incident) []*Playbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Playbook
	for _, pb := range s.playbooks {
		if pb.Matches(inc) {
			out = append(out, copyPlaybook(pb))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a playbook against an incident synchronously and returns
// the finished execution record.
func (s *Service) Execute(ctx context.Context, playbookID, incidentID, triggeredBy string) (*Execution, error) {
	pb, err := s.GetPlaybook(playbookID)
	if err != nil {
		return nil, err
	}

	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}

	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	execID := generateExecutionID()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registerCancel(execID, cancel)
	defer s.unregisterCancel(execID)

	return s.executor.Execute(runCtx, execID, pb, inc, triggeredBy)
}

// AutoExecute finds all auto-execute playbooks matching the incident and
// runs each in a detached goroutine. It never blocks and never fails the
// caller; every error is absorbed and logged.
func (s *Service) AutoExecute(inc *core.Incident) {
	if inc == nil {
		return
	}
	if !s.autoExecute {
		s.logger.Debugw("Auto-execution disabled service-wide, skipping", "incident_id", inc.ID)
		return
	}
	matching := s.FindMatching(inc)
	for _, pb := range matching {
		if !pb.AutoExecute {
			continue
		}
		pb := pb
		incCopy := *inc
		s.logger.Infow("Auto-executing playbook",
			"playbook_id", pb.ID, "playbook", pb.Name, "incident_id", inc.ID)
		go func() {
			defer goroutine.Recover("playbook-auto-execute", s.logger)

			execID := generateExecutionID()
			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.registerCancel(execID, cancel)
			defer s.unregisterCancel(execID)

			if _, err := s.executor.Execute(runCtx, execID, pb, &incCopy, "auto"); err != nil {
				s.logger.Errorw("Auto-execution could not start",
					"playbook_id", pb.ID, "incident_id", incCopy.ID, "error", err)
			}
		}()
	}
}

// CancelExecution requests cooperative cancellation of a running
// execution. The run stops at the next step boundary; the step in flight
// completes naturally.
func (s *Service) CancelExecution(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	if exec.Status.IsTerminal() {
		return ErrExecutionNotRunning
	}
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.logger.Infow("Execution cancellation requested", "execution_id", id)
	return nil
}

// GetExecution returns a copy of the execution record with the given ID
func (s *Service) GetExecution(id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return copyExecution(exec), nil
}

// ListExecutionsForIncident returns the execution history of one
// incident, most recent first.
func (s *Service) ListExecutionsForIncident(incidentID string) []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, id := range s.byIncident[incidentID] {
		if exec, ok := s.executions[id]; ok {
			out = append(out, copyExecution(exec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ListExecutions returns all recorded executions, most recent first
func (s *Service) ListExecutions() []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, copyExecution(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Stats summarizes the registry and execution history
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalPlaybooks:     len(s.playbooks),
		TotalExecutions:    len(s.executions),
		AutoExecuteEnabled: s.autoExecute,
	}
	for _, pb := range s.playbooks {
		if pb.Enabled {
			st.EnabledPlaybooks++
		}
		if pb.Enabled && pb.AutoExecute {
			st.AutoExecutePlaybooks++
		}
	}
	for _, exec := range s.executions {
		switch exec.Status {
		case ExecutionStatusRunning:
			st.RunningExecutions++
		case ExecutionStatusCompleted:
			st.SucceededExecutions++
		case ExecutionStatusFailed:
			st.FailedExecutions++
		case ExecutionStatusCancelled:
			st.CancelledExecutions++
		}
	}
	return st
}

// ExecutionStarted records a new running execution in history.
// Part of the ExecutionSink interface consumed by the executor.
func (s *Service) ExecutionStarted(exec *Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = copyExecution(exec)
	if exec.IncidentID != "" {
		s.byIncident[exec.IncidentID] = append(s.byIncident[exec.IncidentID], exec.ID)
	}
}

// StepCompleted appends a finished step result to the stored execution
func (s *Service) StepCompleted(executionID string, stepIndex int, result StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok || exec.Status.IsTerminal() {
		return
	}
	exec.CurrentStep = stepIndex
	exec.StepResults = append(exec.StepResults, copyStepResult(result))
}

// ExecutionFinished records the terminal state of an execution and
// archives it. Terminal status is monotonic: once set it never changes.
func (s *Service) ExecutionFinished(exec *Execution) {
	s.mu.Lock()
	stored, ok := s.executions[exec.ID]
	if !ok || stored.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.executions[exec.ID] = copyExecution(exec)
	s.mu.Unlock()

	if s.executionArchive != nil {
		if err := s.executionArchive.SaveExecution(exec); err != nil {
			s.logger.Errorw("Failed to archive execution",
				"execution_id", exec.ID, "error", err)
		}
	}
}

func (s *Service) registerCancel(execID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[execID] = cancel
}

func (s *Service) unregisterCancel(execID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, execID)
}

func (s *Service) archivePlaybook(pb *Playbook) {
	if s.playbookArchive == nil {
		return
	}
	if err := s.playbookArchive.SavePlaybook(pb); err != nil {
		s.logger.Errorw("Failed to archive playbook", "playbook_id", pb.ID, "error", err)
	}
}

// validatePlaybook collects every structural problem with a definition.
// Caller holds no particular lock; only the registry is consulted.
func (s *Service) validatePlaybook(pb *Playbook) []string {
	var issues []string
	if pb.Name == "" {
		issues = append(issues, "name is required")
	}
	if len(pb.Steps) == 0 {
		issues = append(issues, "at least one step is required")
	}

	syntaxCheck := NewExecutionContext(nil, nil)
	seenIDs := make(map[string]bool)
	for i, step := range pb.Steps {
		ref := step.Name
		if ref == "" {
			ref = fmt.Sprintf("step %d", i+1)
		}
		if step.ID != "" {
			if seenIDs[step.ID] {
				issues = append(issues, fmt.Sprintf("%s: duplicate step id %q", ref, step.ID))
			}
			seenIDs[step.ID] = true
		}
		if len(step.Actions) == 0 {
			issues = append(issues, fmt.Sprintf("%s: at least one action is required", ref))
		}
		for j, action := range step.Actions {
			if action.Type == "" {
				issues = append(issues, fmt.Sprintf("%s: action %d has no type", ref, j+1))
				continue
			}
			if s.registry != nil {
				if _, ok := s.registry.Handler(action.Type); !ok {
					issues = append(issues, fmt.Sprintf("%s: unknown action type %q", ref, action.Type))
				}
			}
		}
		if step.Retry < 0 {
			issues = append(issues, fmt.Sprintf("%s: retry must not be negative", ref))
		}
		if step.Backoff != "" && !step.Backoff.IsValid() {
			issues = append(issues, fmt.Sprintf("%s: unknown backoff strategy %q", ref, step.Backoff))
		}
		if step.Timeout < 0 {
			issues = append(issues, fmt.Sprintf("%s: timeout must not be negative", ref))
		}
		if step.Condition != "" {
			if _, err := syntaxCheck.EvaluateCondition(step.Condition); err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", ref, err))
			}
		}
	}

	for _, sev := range pb.Triggers.Severities {
		if !sev.IsValid() {
			issues = append(issues, fmt.Sprintf("trigger severity %q is invalid", sev))
		}
	}
	for _, t := range pb.Triggers.Types {
		if !t.IsValid() {
			issues = append(issues, fmt.Sprintf("trigger type %q is invalid", t))
		}
	}
	return issues
}

func assignStepIDs(pb *Playbook) {
	for i := range pb.Steps {
		if pb.Steps[i].ID == "" {
			pb.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
}

func generatePlaybookID() string {
	return "pb-" + uuid.New().String()[:8]
}

// copyPlaybook makes an independent copy. Parameter and variable values
// are shared; the engine never mutates them in place.
func copyPlaybook(pb *Playbook) *Playbook {
	out := *pb
	if pb.Variables != nil {
		out.Variables = make(map[string]interface{}, len(pb.Variables))
		for k, v := range pb.Variables {
			out.Variables[k] = v
		}
	}
	out.Triggers.Severities = append([]core.Severity(nil), pb.Triggers.Severities...)
	out.Triggers.Types = append([]core.IncidentType(nil), pb.Triggers.Types...)
	out.Triggers.Sources = append([]string(nil), pb.Triggers.Sources...)
	out.Tags = append([]string(nil), pb.Tags...)
	out.Steps = make([]Step, len(pb.Steps))
	for i, step := range pb.Steps {
		out.Steps[i] = step
		out.Steps[i].Actions = append([]Action(nil), step.Actions...)
	}
	return &out
}

func copyExecution(exec *Execution) *Execution {
	out := *exec
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		out.CompletedAt = &t
	}
	out.StepResults = make([]StepResult, len(exec.StepResults))
	for i, sr := range exec.StepResults {
		out.StepResults[i] = copyStepResult(sr)
	}
	return &out
}

func copyStepResult(sr StepResult) StepResult {
	out := sr
	if sr.CompletedAt != nil {
		t := *sr.CompletedAt
		out.CompletedAt = &t
	}
	out.ActionResults = append([]ActionResult(nil), sr.ActionResults...)
	return out
}
