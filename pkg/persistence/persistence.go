// Package persistence provides the relational storage abstraction for node logs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/nodelog/pkg/models"
)

// LogRepository stores one row per node log. Rows are append-only: there is no
// update, only insert and delete.
type LogRepository interface {
	// Insert stores record, whose payload fields are either inline values or
	// storage pointers. Returns ErrLogAlreadyExists on a duplicate id.
	Insert(ctx context.Context, record *models.LogRecord) error
	// GetByID returns ErrLogNotFound when no row exists.
	GetByID(ctx context.Context, id string) (*models.LogRecord, error)
	// Delete removes the row. Deleting a missing row returns ErrLogNotFound.
	Delete(ctx context.Context, id string) error
	// ListIDsByExecution returns the ids of every log of an execution, oldest first.
	ListIDsByExecution(ctx context.Context, executionID string) ([]string, error)
	// ListExpired returns up to limit logs started before the given time, ordered
	// by start time then id. A non-nil after restricts the page to logs ordered
	// after it.
	ListExpired(ctx context.Context, before time.Time, after *ExpiredLog, limit int) ([]ExpiredLog, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ExpiredLog is one entry of a ListExpired page and the cursor for the next one.
type ExpiredLog struct {
	ID        string
	StartedAt time.Time
}
