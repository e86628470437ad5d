package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connection used for durable archives.
// WAL mode with a single-writer pool keeps writes serialized and safe.
type SQLite struct {
	DB     *sql.DB
	Path   string
	Logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// NewSQLite opens (and creates if needed) the archive database
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// WAL mode requires exactly one writer at a time for consistency
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	s := &SQLite{DB: db, Path: dbPath, Logger: logger}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite archive initialized at %s", dbPath)
	return s, nil
}

// WithTransaction executes fn within a transaction, rolling back on error
// or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	if s.isClosed() {
		return ErrDatabaseClosed
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS playbooks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		owner TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		auto_execute INTEGER NOT NULL DEFAULT 0,
		triggers TEXT, -- JSON object
		variables TEXT, -- JSON object
		steps TEXT NOT NULL, -- JSON array
		tags TEXT, -- JSON array
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_playbooks_enabled ON playbooks(enabled);
	CREATE INDEX IF NOT EXISTS idx_playbooks_name ON playbooks(name);

	CREATE TABLE IF NOT EXISTS playbook_executions (
		id TEXT PRIMARY KEY,
		playbook_id TEXT NOT NULL,
		incident_id TEXT,
		status TEXT NOT NULL,
		triggered_by TEXT,
		current_step INTEGER NOT NULL DEFAULT 0,
		step_results TEXT, -- JSON array
		error TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_executions_playbook_id ON playbook_executions(playbook_id);
	CREATE INDEX IF NOT EXISTS idx_executions_incident_id ON playbook_executions(incident_id);
	CREATE INDEX IF NOT EXISTS idx_executions_started_at ON playbook_executions(started_at DESC);
	`

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	s.Logger.Info("SQLite tables created/verified")
	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck() error {
	if s.isClosed() {
		return ErrDatabaseClosed
	}
	return s.DB.Ping()
}

// Close closes the database connection. Further use of the store
// returns ErrDatabaseClosed.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.DB == nil {
		return nil
	}
	s.closed = true
	return s.DB.Close()
}

func (s *SQLite) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
