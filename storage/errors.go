package storage

import "errors"

// Storage error constants
var (
	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrIncidentExists is returned when creating an incident whose ID is taken
	ErrIncidentExists = errors.New("incident already exists")

	// ErrPlaybookNotFound is returned when a playbook is not found
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrExecutionNotFound is returned when a playbook execution is not found
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDatabaseClosed is returned when using a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
