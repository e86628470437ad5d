package playbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aegis/core"
)

// fakeIncidentStore is an in-memory IncidentStore for service tests
type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*core.Incident
}

func newFakeIncidentStore(incs ...*core.Incident) *fakeIncidentStore {
	s := &fakeIncidentStore{incidents: make(map[string]*core.Incident)}
	for _, inc := range incs {
		s.incidents[inc.ID] = inc
	}
	return s
}

func (s *fakeIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident not found")
	}
	cp := *inc
	return &cp, nil
}

func (s *fakeIncidentStore) UpdateIncident(ctx context.Context, inc *core.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

func newTestService(handlers ...Handler) (*Service, *fakeIncidentStore) {
	logger := zap.NewNop().Sugar()
	registry := NewRegistry(logger)
	for _, h := range handlers {
		registry.Register(h)
	}
	store := newFakeIncidentStore(testIncident())
	svc := NewService(registry, store, logger)
	svc.executor.fixedDelay = time.Millisecond
	svc.executor.linearUnit = time.Millisecond
	svc.executor.expUnit = time.Millisecond
	return svc, store
}

func validPlaybook(name string) *Playbook {
	return &Playbook{
		Name:    name,
		Enabled: true,
		Steps: []Step{
			{Name: "notify", Actions: []Action{{Type: "notify"}}},
		},
	}
}

func TestServiceCreatePlaybook(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	created, err := svc.CreatePlaybook(validPlaybook("db failover"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "step-1", created.Steps[0].ID, "missing step ids are assigned")
	assert.False(t, created.CreatedAt.IsZero())

	got, err := svc.GetPlaybook(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "db failover", got.Name)
}

func TestServiceCreatePlaybookValidation(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	tests := []struct {
		name    string
		mutate  func(*Playbook)
		wantMsg string
	}{
		{"empty name", func(pb *Playbook) { pb.Name = "" }, "name is required"},
		{"no steps", func(pb *Playbook) { pb.Steps = nil }, "at least one step"},
		{"step without actions", func(pb *Playbook) { pb.Steps[0].Actions = nil }, "at least one action"},
		{"unknown action type", func(pb *Playbook) { pb.Steps[0].Actions[0].Type = "nope" }, "unknown action type"},
		{"negative retry", func(pb *Playbook) { pb.Steps[0].Retry = -1 }, "retry must not be negative"},
		{"bad backoff", func(pb *Playbook) { pb.Steps[0].Backoff = "quadratic" }, "unknown backoff strategy"},
		{"bad condition", func(pb *Playbook) { pb.Steps[0].Condition = "$x" }, "cannot evaluate condition"},
		{"bad trigger severity", func(pb *Playbook) { pb.Triggers.Severities = []core.Severity{"P9"} }, "is invalid"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pb := validPlaybook("candidate")
			tc.mutate(pb)
			_, err := svc.CreatePlaybook(pb)
			require.Error(t, err)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Contains(t, vErr.Error(), tc.wantMsg)
		})
	}
}

func TestServiceValidationCollectsAllIssues(t *testing.T) {
	svc, _ := newTestService()

	pb := &Playbook{Steps: []Step{{Retry: -1}}}
	_, err := svc.CreatePlaybook(pb)
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.GreaterOrEqual(t, len(vErr.Issues), 3, "all problems are reported together")
}

func TestServiceUpdatePlaybook(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	created, err := svc.CreatePlaybook(validPlaybook("original"))
	require.NoError(t, err)

	updated := validPlaybook("renamed")
	got, err := svc.UpdatePlaybook(created.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)

	_, err = svc.UpdatePlaybook("pb-missing", updated)
	assert.ErrorIs(t, err, ErrPlaybookNotFound)
}

func TestServiceDeletePlaybook(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	created, err := svc.CreatePlaybook(validPlaybook("doomed"))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePlaybook(created.ID))
	_, err = svc.GetPlaybook(created.ID)
	assert.ErrorIs(t, err, ErrPlaybookNotFound)
	assert.ErrorIs(t, svc.DeletePlaybook(created.ID), ErrPlaybookNotFound)
}

func TestServiceFindMatching(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	wildcard := validPlaybook("matches everything")
	_, err := svc.CreatePlaybook(wildcard)
	require.NoError(t, err)

	sevBound := validPlaybook("p0 p1 only")
	sevBound.Triggers.Severities = []core.Severity{core.SeverityP0, core.SeverityP1}
	_, err = svc.CreatePlaybook(sevBound)
	require.NoError(t, err)

	typeBound := validPlaybook("security only")
	typeBound.Triggers.Types = []core.IncidentType{core.IncidentTypeSecurity}
	_, err = svc.CreatePlaybook(typeBound)
	require.NoError(t, err)

	disabled := validPlaybook("disabled")
	disabled.Enabled = false
	_, err = svc.CreatePlaybook(disabled)
	require.NoError(t, err)

	inc := core.NewIncident("API down", "monitor", core.SeverityP1, core.IncidentTypeAvailability)
	matches := svc.FindMatching(inc)

	names := make([]string, 0, len(matches))
	for _, pb := range matches {
		names = append(names, pb.Name)
	}
	assert.ElementsMatch(t, []string{"matches everything", "p0 p1 only"}, names)
}

func TestServiceExecute(t *testing.T) {
	h := &mockHandler{actionType: "notify"}
	svc, _ := newTestService(h)

	created, err := svc.CreatePlaybook(validPlaybook("runbook"))
	require.NoError(t, err)

	exec, err := svc.Execute(context.Background(), created.ID, "inc-1", "manual")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "manual", exec.TriggeredBy)
	assert.Equal(t, 1, h.Calls())

	// History reflects the finished run
	stored, err := svc.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, stored.Status)

	history := svc.ListExecutionsForIncident("inc-1")
	require.Len(t, history, 1)
	assert.Equal(t, exec.ID, history[0].ID)
}

func TestServiceExecuteUnknownIDs(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	_, err := svc.Execute(context.Background(), "pb-missing", "inc-1", "manual")
	assert.ErrorIs(t, err, ErrPlaybookNotFound)

	created, err := svc.CreatePlaybook(validPlaybook("runbook"))
	require.NoError(t, err)
	_, err = svc.Execute(context.Background(), created.ID, "inc-missing", "manual")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestServiceAutoExecute(t *testing.T) {
	h := &mockHandler{actionType: "notify"}
	svc, _ := newTestService(h)

	auto := validPlaybook("auto remediation")
	auto.AutoExecute = true
	_, err := svc.CreatePlaybook(auto)
	require.NoError(t, err)

	manualOnly := validPlaybook("manual runbook")
	_, err = svc.CreatePlaybook(manualOnly)
	require.NoError(t, err)

	inc := testIncident()
	svc.AutoExecute(inc)

	// Fire and forget: poll until the detached run lands in history
	require.Eventually(t, func() bool {
		return len(svc.ListExecutionsForIncident(inc.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	execs := svc.ListExecutionsForIncident(inc.ID)
	require.Len(t, execs, 1, "only the auto-execute playbook runs")
	assert.Equal(t, "auto", execs[0].TriggeredBy)
	require.Eventually(t, func() bool {
		e, err := svc.GetExecution(execs[0].ID)
		return err == nil && e.Status == ExecutionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceAutoExecuteDisabledRunsNothing(t *testing.T) {
	h := &mockHandler{actionType: "notify"}
	svc, _ := newTestService(h)

	pb := validPlaybook("matching but manual")
	pb.AutoExecute = false
	_, err := svc.CreatePlaybook(pb)
	require.NoError(t, err)

	inc := testIncident()
	svc.AutoExecute(inc)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, svc.ListExecutionsForIncident(inc.ID))
	assert.Equal(t, 0, h.Calls())
}

func TestServiceAutoExecuteDisabledServiceWide(t *testing.T) {
	h := &mockHandler{actionType: "notify"}
	logger := zap.NewNop().Sugar()
	registry := NewRegistry(logger)
	registry.Register(h)
	store := newFakeIncidentStore(testIncident())
	svc := NewService(registry, store, logger, WithAutoExecute(false))

	auto := validPlaybook("would auto-run")
	auto.AutoExecute = true
	_, err := svc.CreatePlaybook(auto)
	require.NoError(t, err)

	inc := testIncident()
	require.NotEmpty(t, svc.FindMatching(inc), "the playbook itself still matches")

	svc.AutoExecute(inc)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, svc.ListExecutionsForIncident(inc.ID))
	assert.Equal(t, 0, h.Calls())
	assert.False(t, svc.Stats().AutoExecuteEnabled)
}

func TestServiceCancelExecution(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	slow := &mockHandler{
		actionType: "slow",
		executeFn: func(ctx context.Context, _ *ExecutionContext, _ map[string]interface{}) (map[string]interface{}, error) {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return nil, nil
		},
	}
	svc, _ := newTestService(slow)

	pb := validPlaybook("long runbook")
	pb.Steps = []Step{
		{Name: "slow one", Actions: []Action{{Type: "slow"}}},
		{Name: "slow two", Actions: []Action{{Type: "slow"}}},
	}
	created, err := svc.CreatePlaybook(pb)
	require.NoError(t, err)

	var exec *Execution
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		exec, _ = svc.Execute(context.Background(), created.ID, "inc-1", "manual")
	}()

	// Wait until the run shows up in history, then cancel it
	require.Eventually(t, func() bool {
		execs := svc.ListExecutionsForIncident("inc-1")
		if len(execs) == 1 {
			started <- execs[0].ID
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	execID := <-started
	require.NoError(t, svc.CancelExecution(execID))
	close(release)

	select {
	case <-doneCh:
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not finish after cancellation")
	}

	require.NotNil(t, exec)
	assert.Equal(t, ExecutionStatusCancelled, exec.Status)
	assert.Len(t, exec.StepResults, 1, "second step never starts")

	// Cancelling a finished execution is rejected
	assert.ErrorIs(t, svc.CancelExecution(execID), ErrExecutionNotRunning)
	assert.ErrorIs(t, svc.CancelExecution("exec-missing"), ErrExecutionNotFound)
}

func TestServiceStats(t *testing.T) {
	failing := &mockHandler{
		actionType: "broken",
		executeFn: func(context.Context, *ExecutionContext, map[string]interface{}) (map[string]interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	}
	ok := &mockHandler{actionType: "notify"}
	svc, _ := newTestService(failing, ok)

	good := validPlaybook("good")
	_, err := svc.CreatePlaybook(good)
	require.NoError(t, err)

	auto := validPlaybook("auto")
	auto.AutoExecute = true
	_, err = svc.CreatePlaybook(auto)
	require.NoError(t, err)

	disabled := validPlaybook("off")
	disabled.Enabled = false
	_, err = svc.CreatePlaybook(disabled)
	require.NoError(t, err)

	bad := validPlaybook("bad")
	bad.Steps[0].Actions[0].Type = "broken"
	createdBad, err := svc.CreatePlaybook(bad)
	require.NoError(t, err)

	// Run one success and one failure
	var goodID string
	for _, pb := range svc.ListPlaybooks() {
		if pb.Name == "good" {
			goodID = pb.ID
		}
	}
	_, err = svc.Execute(context.Background(), goodID, "inc-1", "manual")
	require.NoError(t, err)
	_, err = svc.Execute(context.Background(), createdBad.ID, "inc-1", "manual")
	require.NoError(t, err)

	st := svc.Stats()
	assert.Equal(t, 4, st.TotalPlaybooks)
	assert.Equal(t, 3, st.EnabledPlaybooks)
	assert.True(t, st.AutoExecuteEnabled)
	assert.Equal(t, 1, st.AutoExecutePlaybooks)
	assert.Equal(t, 2, st.TotalExecutions)
	assert.Equal(t, 1, st.SucceededExecutions)
	assert.Equal(t, 1, st.FailedExecutions)
}

func TestServiceHistoryReturnsCopies(t *testing.T) {
	svc, _ := newTestService(&mockHandler{actionType: "notify"})

	created, err := svc.CreatePlaybook(validPlaybook("runbook"))
	require.NoError(t, err)
	exec, err := svc.Execute(context.Background(), created.ID, "inc-1", "manual")
	require.NoError(t, err)

	got, err := svc.GetExecution(exec.ID)
	require.NoError(t, err)
	got.Status = ExecutionStatusFailed
	got.StepResults[0].Status = StepStatusFailed

	again, err := svc.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, again.Status, "mutating a returned copy must not affect history")
	assert.Equal(t, StepStatusSucceeded, again.StepResults[0].Status)
}
