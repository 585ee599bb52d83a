package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/persistence"
)

const uniqueViolation = "23505"

const logColumns = `
	id, workspace_id, execution_id, workflow_id, node_id, node_type, node_name,
	status, started_at, completed_at, duration_ms,
	input_data, input_pointer, output_data, output_pointer,
	error_message, tokens_used, cost_usd, retry_count, metadata, created_at
`

// LogRepository handles node log database operations.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Insert stores a new row. Rows are never updated, so a duplicate id is an error.
func (r *LogRepository) Insert(ctx context.Context, record *models.LogRecord) error {
	inputData, inputPointer, err := encodePayload(record.Input)
	if err != nil {
		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to marshal input: %w", err))
	}

	outputData, outputPointer, err := encodePayload(record.Output)
	if err != nil {
		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to marshal output: %w", err))
	}

	metadataJSON, err := nullableJSON(record.Metadata)
	if err != nil {
		return persistence.NewLogError("Insert", record.ID, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO node_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.WorkspaceID,
		record.ExecutionID,
		record.WorkflowID,
		record.NodeID,
		record.NodeType,
		record.NodeName,
		record.Status,
		record.StartedAt,
		record.CompletedAt,
		record.DurationMs,
		inputData,
		inputPointer,
		outputData,
		outputPointer,
		record.Error,
		record.TokensUsed,
		record.CostUSD,
		record.RetryCount,
		metadataJSON,
		record.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewLogError("Insert", record.ID, persistence.ErrLogAlreadyExists)
		}

		return persistence.NewLogError("Insert", record.ID, err)
	}

	return nil
}

func (r *LogRepository) GetByID(ctx context.Context, id string) (*models.LogRecord, error) {
	query := `SELECT ` + logColumns + ` FROM node_logs WHERE id = $1`

	record, err := scanLogRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewLogError("GetByID", id, persistence.ErrLogNotFound)
		}

		return nil, persistence.NewLogError("GetByID", id, err)
	}

	return record, nil
}

func (r *LogRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM node_logs WHERE id = $1`, id)
	if err != nil {
		return persistence.NewLogError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewLogError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewLogError("Delete", id, persistence.ErrLogNotFound)
	}

	return nil
}

func (r *LogRepository) ListIDsByExecution(ctx context.Context, executionID string) ([]string, error) {
	query := `
		SELECT id FROM node_logs
		WHERE execution_id = $1
		ORDER BY started_at, created_at, id
	`

	return r.queryIDs(ctx, "ListIDsByExecution", query, executionID)
}

func (r *LogRepository) ListExpired(
	ctx context.Context, before time.Time, after *persistence.ExpiredLog, limit int,
) ([]persistence.ExpiredLog, error) {
	query := `
		SELECT id, started_at FROM node_logs
		WHERE started_at < $1
		ORDER BY started_at, id
		LIMIT $2
	`
	args := []any{before, limit}

	if after != nil {
		query = `
			SELECT id, started_at FROM node_logs
			WHERE started_at < $1 AND (started_at, id) > ($3::timestamptz, $4::varchar)
			ORDER BY started_at, id
			LIMIT $2
		`
		args = append(args, after.StartedAt, after.ID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewLogError("ListExpired", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	expired := []persistence.ExpiredLog{}

	for rows.Next() {
		var entry persistence.ExpiredLog

		err := rows.Scan(&entry.ID, &entry.StartedAt)
		if err != nil {
			return nil, persistence.NewLogError("ListExpired", "", fmt.Errorf("failed to scan expired log: %w", err))
		}

		expired = append(expired, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewLogError("ListExpired", "", fmt.Errorf("error iterating expired logs: %w", err))
	}

	return expired, nil
}

func (r *LogRepository) queryIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewLogError(op, "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	ids := []string{}

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, persistence.NewLogError(op, "", fmt.Errorf("failed to scan log id: %w", err))
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewLogError(op, "", fmt.Errorf("error iterating log ids: %w", err))
	}

	return ids, nil
}

func scanLogRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.LogRecord, error) {
	var (
		record                                              models.LogRecord
		inputData, inputPointer, outputData, outputPointer []byte
		metadataJSON                                        []byte
	)

	err := scanner.Scan(
		&record.ID,
		&record.WorkspaceID,
		&record.ExecutionID,
		&record.WorkflowID,
		&record.NodeID,
		&record.NodeType,
		&record.NodeName,
		&record.Status,
		&record.StartedAt,
		&record.CompletedAt,
		&record.DurationMs,
		&inputData,
		&inputPointer,
		&outputData,
		&outputPointer,
		&record.Error,
		&record.TokensUsed,
		&record.CostUSD,
		&record.RetryCount,
		&metadataJSON,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Input, err = decodePayload(inputData, inputPointer)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	record.Output, err = decodePayload(outputData, outputPointer)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	if metadataJSON != nil {
		err := json.Unmarshal(metadataJSON, &record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &record, nil
}

// encodePayload splits a payload into its data and pointer columns. At most one
// of the two is non-NULL.
func encodePayload(payload models.Payload) (any, any, error) {
	if pointer, ok := payload.Pointer(); ok {
		pointerJSON, err := json.Marshal(pointer)
		if err != nil {
			return nil, nil, err
		}

		return nil, pointerJSON, nil
	}

	data, err := nullableJSON(payload.Value())

	return data, nil, err
}

func decodePayload(data, pointer []byte) (models.Payload, error) {
	if pointer != nil {
		var p models.StoragePointer

		err := json.Unmarshal(pointer, &p)
		if err != nil {
			return models.Payload{}, err
		}

		return models.Offloaded(p), nil
	}

	if data == nil {
		return models.Payload{}, nil
	}

	var value any

	err := json.Unmarshal(data, &value)
	if err != nil {
		return models.Payload{}, err
	}

	return models.Inline(value), nil
}

func nullableJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	if m, ok := value.(map[string]any); ok && m == nil {
		return nil, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return raw, nil
}
