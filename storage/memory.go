package storage

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"aegis/core"
)

// MemoryIncidentStore is an in-memory incident store guarded by a RWMutex.
// It satisfies the incident access the playbook actions need and backs the
// incident API.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*core.Incident
	logger    *zap.SugaredLogger
}

// NewMemoryIncidentStore creates an empty incident store
func NewMemoryIncidentStore(logger *zap.SugaredLogger) *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]*core.Incident),
		logger:    logger,
	}
}

// CreateIncident stores a new incident. The incident's ID must be unique.
func (m *MemoryIncidentStore) CreateIncident(ctx context.Context, inc *core.Incident) error {
	if err := inc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.incidents[inc.ID]; exists {
		return ErrIncidentExists
	}
	m.incidents[inc.ID] = copyIncident(inc)
	m.logger.Debugw("Incident stored", "incident_id", inc.ID, "severity", inc.Severity)
	return nil
}

// GetIncident returns a copy of the incident with the given ID
func (m *MemoryIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return copyIncident(inc), nil
}

// UpdateIncident replaces a stored incident
func (m *MemoryIncidentStore) UpdateIncident(ctx context.Context, inc *core.Incident) error {
	if err := inc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; !ok {
		return ErrIncidentNotFound
	}
	m.incidents[inc.ID] = copyIncident(inc)
	return nil
}

// DeleteIncident removes an incident
func (m *MemoryIncidentStore) DeleteIncident(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(m.incidents, id)
	return nil
}

// ListIncidents returns copies of all incidents, most recently created first
func (m *MemoryIncidentStore) ListIncidents(ctx context.Context) ([]*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, copyIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func copyIncident(inc *core.Incident) *core.Incident {
	out := *inc
	out.AffectedResources = append([]string(nil), inc.AffectedResources...)
	out.Assignees = append([]string(nil), inc.Assignees...)
	out.Timeline = append([]core.TimelineEvent(nil), inc.Timeline...)
	if inc.Labels != nil {
		out.Labels = make(map[string]string, len(inc.Labels))
		for k, v := range inc.Labels {
			out.Labels[k] = v
		}
	}
	if inc.Resolution != nil {
		r := *inc.Resolution
		out.Resolution = &r
	}
	return &out
}
