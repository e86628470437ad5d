package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/playbook"
)

// SQLiteExecutionArchive persists terminal playbook execution records
type SQLiteExecutionArchive struct {
	db *SQLite
}

// NewSQLiteExecutionArchive creates an execution archive over the database
func NewSQLiteExecutionArchive(db *SQLite) *SQLiteExecutionArchive {
	return &SQLiteExecutionArchive{db: db}
}

// SaveExecution inserts or replaces an execution record
func (a *SQLiteExecutionArchive) SaveExecution(exec *playbook.Execution) error {
	stepResults, err := json.Marshal(exec.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	var completedAt interface{}
	if exec.CompletedAt != nil {
		completedAt = exec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = a.db.DB.Exec(`
		INSERT OR REPLACE INTO playbook_executions
		(id, playbook_id, incident_id, status, triggered_by, current_step,
		 step_results, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.PlaybookID, exec.IncidentID, string(exec.Status),
		exec.TriggeredBy, exec.CurrentStep, string(stepResults), exec.Error,
		exec.StartedAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution returns one archived execution record
func (a *SQLiteExecutionArchive) GetExecution(id string) (*playbook.Execution, error) {
	rows, err := a.db.DB.Query(`
		SELECT id, playbook_id, incident_id, status, triggered_by, current_step,
		       step_results, error, started_at, completed_at
		FROM playbook_executions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrExecutionNotFound
	}
	return scanExecution(rows)
}

// ListExecutionsByIncident returns archived executions for an incident,
// most recent first.
func (a *SQLiteExecutionArchive) ListExecutionsByIncident(incidentID string) ([]*playbook.Execution, error) {
	rows, err := a.db.DB.Query(`
		SELECT id, playbook_id, incident_id, status, triggered_by, current_step,
		       step_results, error, started_at, completed_at
		FROM playbook_executions
		WHERE incident_id = ? ORDER BY started_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*playbook.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func scanExecution(rows *sql.Rows) (*playbook.Execution, error) {
	var exec playbook.Execution
	var status string
	var stepResults, errMsg, completedAt sql.NullString
	var startedAt string

	err := rows.Scan(&exec.ID, &exec.PlaybookID, &exec.IncidentID, &status,
		&exec.TriggeredBy, &exec.CurrentStep, &stepResults, &errMsg,
		&startedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution row: %w", err)
	}

	exec.Status = playbook.ExecutionStatus(status)
	exec.Error = errMsg.String

	if stepResults.Valid && stepResults.String != "" {
		if err := json.Unmarshal([]byte(stepResults.String), &exec.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results for %s: %w", exec.ID, err)
		}
	}
	if exec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at for %s: %w", exec.ID, err)
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at for %s: %w", exec.ID, err)
		}
		exec.CompletedAt = &t
	}
	return &exec, nil
}
