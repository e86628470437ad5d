package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/playbook"
)

// SQLitePlaybookArchive persists playbook definitions. It backs the
// playbook service's write-through archive so definitions survive restarts.
type SQLitePlaybookArchive struct {
	db *SQLite
}

// NewSQLitePlaybookArchive creates a playbook archive over the database
func NewSQLitePlaybookArchive(db *SQLite) *SQLitePlaybookArchive {
	return &SQLitePlaybookArchive{db: db}
}

// SavePlaybook inserts or replaces a playbook definition
func (a *SQLitePlaybookArchive) SavePlaybook(pb *playbook.Playbook) error {
	triggers, err := json.Marshal(pb.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}
	variables, err := json.Marshal(pb.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	steps, err := json.Marshal(pb.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	tags, err := json.Marshal(pb.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	return a.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO playbooks
			(id, name, description, version, owner, enabled, auto_execute,
			 triggers, variables, steps, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pb.ID, pb.Name, pb.Description, pb.Version, pb.Owner,
			boolToInt(pb.Enabled), boolToInt(pb.AutoExecute),
			string(triggers), string(variables), string(steps), string(tags),
			pb.CreatedAt.UTC().Format(time.RFC3339), pb.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to save playbook %s: %w", pb.ID, err)
		}
		return nil
	})
}

// DeletePlaybook removes a playbook definition
func (a *SQLitePlaybookArchive) DeletePlaybook(id string) error {
	result, err := a.db.DB.Exec("DELETE FROM playbooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete playbook %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPlaybookNotFound
	}
	return nil
}

// ListPlaybooks returns every archived playbook definition
func (a *SQLitePlaybookArchive) ListPlaybooks() ([]*playbook.Playbook, error) {
	rows, err := a.db.DB.Query(`
		SELECT id, name, description, version, owner, enabled, auto_execute,
		       triggers, variables, steps, tags, created_at, updated_at
		FROM playbooks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*playbook.Playbook
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

func scanPlaybook(rows *sql.Rows) (*playbook.Playbook, error) {
	var pb playbook.Playbook
	var enabled, autoExecute int
	var triggers, variables, steps, tags sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(&pb.ID, &pb.Name, &pb.Description, &pb.Version, &pb.Owner,
		&enabled, &autoExecute, &triggers, &variables, &steps, &tags,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan playbook row: %w", err)
	}

	pb.Enabled = enabled != 0
	pb.AutoExecute = autoExecute != 0

	if triggers.Valid && triggers.String != "" {
		if err := json.Unmarshal([]byte(triggers.String), &pb.Triggers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal triggers for %s: %w", pb.ID, err)
		}
	}
	if variables.Valid && variables.String != "" {
		if err := json.Unmarshal([]byte(variables.String), &pb.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables for %s: %w", pb.ID, err)
		}
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &pb.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps for %s: %w", pb.ID, err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &pb.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", pb.ID, err)
		}
	}

	if pb.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", pb.ID, err)
	}
	if pb.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", pb.ID, err)
	}
	return &pb, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
