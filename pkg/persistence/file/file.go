// Package file provides a file-based persistence.LogRepository for development and
// single-node deployments. Each log row is one JSON file.
package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/persistence"
)

const logsDir = "node_logs"

var _ persistence.LogRepository = (*Persistence)(nil)

// Persistence implements persistence.LogRepository using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// validateLogID validates that the log ID is safe for file operations.
func validateLogID(id string) error {
	if id == "" {
		return errors.New("log ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("log ID contains invalid characters")
	}

	return nil
}

func (fp *Persistence) logPath(id string) string {
	return filepath.Join(fp.root, logsDir, id+".json")
}

// Insert writes the record with O_EXCL so an existing id is never overwritten.
func (fp *Persistence) Insert(_ context.Context, record *models.LogRecord) error {
	if err := validateLogID(record.ID); err != nil {
		return persistence.NewLogError("Insert", record.ID, err)
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to marshal log: %w", err))
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.MkdirAll(filepath.Join(fp.root, logsDir), 0750)
	if err != nil {
		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to create logs directory: %w", err))
	}

	file, err := os.OpenFile(fp.logPath(record.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return persistence.NewLogError("Insert", record.ID, persistence.ErrLogAlreadyExists)
		}

		return persistence.NewLogError("Insert", record.ID, err)
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err = errors.Join(err, closeErr); err != nil {
		_ = os.Remove(fp.logPath(record.ID))

		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to write log: %w", err))
	}

	return nil
}

func (fp *Persistence) GetByID(_ context.Context, id string) (*models.LogRecord, error) {
	if err := validateLogID(id); err != nil {
		return nil, persistence.NewLogError("GetByID", id, err)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.read(fp.logPath(id), id)
}

func (fp *Persistence) read(path, id string) (*models.LogRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewLogError("GetByID", id, persistence.ErrLogNotFound)
		}

		return nil, persistence.NewLogError("GetByID", id, err)
	}

	var record models.LogRecord

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, persistence.NewLogError("GetByID", id, fmt.Errorf("failed to unmarshal log: %w", err))
	}

	return &record, nil
}

func (fp *Persistence) Delete(_ context.Context, id string) error {
	if err := validateLogID(id); err != nil {
		return persistence.NewLogError("Delete", id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(fp.logPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewLogError("Delete", id, persistence.ErrLogNotFound)
		}

		return persistence.NewLogError("Delete", id, err)
	}

	return nil
}

func (fp *Persistence) ListIDsByExecution(_ context.Context, executionID string) ([]string, error) {
	records, err := fp.all("ListIDsByExecution", func(r *models.LogRecord) bool {
		return r.ExecutionID == executionID
	})
	if err != nil {
		return nil, err
	}

	return ids(records), nil
}

func (fp *Persistence) ListExpired(
	_ context.Context, before time.Time, after *persistence.ExpiredLog, limit int,
) ([]persistence.ExpiredLog, error) {
	records, err := fp.all("ListExpired", func(r *models.LogRecord) bool {
		return r.StartedAt.Before(before) && (after == nil || compareExpired(r, after) > 0)
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b *models.LogRecord) int {
		return compareExpired(a, &persistence.ExpiredLog{ID: b.ID, StartedAt: b.StartedAt})
	})

	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}

	expired := make([]persistence.ExpiredLog, 0, len(records))
	for _, record := range records {
		expired = append(expired, persistence.ExpiredLog{ID: record.ID, StartedAt: record.StartedAt})
	}

	return expired, nil
}

func compareExpired(r *models.LogRecord, cursor *persistence.ExpiredLog) int {
	return cmp.Or(r.StartedAt.Compare(cursor.StartedAt), cmp.Compare(r.ID, cursor.ID))
}

// all loads every record accepted by keep, ordered by start time.
func (fp *Persistence) all(op string, keep func(*models.LogRecord) bool) ([]*models.LogRecord, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(fp.root, logsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewLogError(op, "", err)
	}

	var records []*models.LogRecord

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")

		record, err := fp.read(filepath.Join(fp.root, logsDir, entry.Name()), id)
		if err != nil {
			return nil, persistence.NewLogError(op, id, err)
		}

		if keep(record) {
			records = append(records, record)
		}
	}

	slices.SortFunc(records, func(a, b *models.LogRecord) int {
		return cmp.Or(
			a.StartedAt.Compare(b.StartedAt),
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.ID, b.ID),
		)
	})

	return records, nil
}

func ids(records []*models.LogRecord) []string {
	result := make([]string, 0, len(records))
	for _, record := range records {
		result = append(result, record.ID)
	}

	return result
}
