package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrLogNotFound indicates no log row exists for the given identifier.
	ErrLogNotFound = errors.New("log not found")

	// ErrLogAlreadyExists indicates a log with the same identifier already exists.
	ErrLogAlreadyExists = errors.New("log already exists")
)

// LogError wraps log-related errors with additional context.
type LogError struct {
	Op    string // Operation being performed (e.g., "GetByID", "Insert", "Delete")
	LogID string
	Err   error
}

func (e *LogError) Error() string {
	if e.LogID == "" {
		return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s operation failed for log %s: %v", e.Op, e.LogID, e.Err)
}

func (e *LogError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for log errors.
func (e *LogError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewLogError(op, logID string, err error) *LogError {
	return &LogError{
		Op:    op,
		LogID: logID,
		Err:   err,
	}
}

// IsLogNotFound checks if an error indicates a log was not found.
func IsLogNotFound(err error) bool {
	return errors.Is(err, ErrLogNotFound)
}
