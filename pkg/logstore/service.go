// Package logstore persists node execution logs, moving large input and output
// payloads to blob storage and restoring them transparently on read.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/nodelog/pkg/metrics"
	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/otelhelper"
	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/dukex/nodelog/pkg/storage"
)

const (
	// DefaultThreshold is the payload size in bytes from which a payload is offloaded.
	DefaultThreshold int64 = 10 * 1024
	DefaultBasePath        = "execution-logs"
	DefaultBatchSize       = 10
)

type Config struct {
	Threshold int64  `yaml:"threshold"  validate:"gte=0"`
	BasePath  string `yaml:"base_path"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		BasePath:  DefaultBasePath,
		BatchSize: DefaultBatchSize,
	}
}

// SaveResult describes where each payload of a saved log ended up.
type SaveResult struct {
	LogID           string `json:"log_id"`
	InputOffloaded  bool   `json:"input_offloaded"`
	OutputOffloaded bool   `json:"output_offloaded"`
	InputSize       int64  `json:"input_size"`
	OutputSize      int64  `json:"output_size"`
}

// GetResult is one entry of a batch read.
type GetResult struct {
	Log *models.LogRecord
	Err error
}

// Service routes payloads between the log repository and a blob storage provider.
// It is safe for concurrent use.
type Service struct {
	provider storage.Provider
	repo     persistence.LogRepository
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.Metrics
	validate *validator.Validate
	newID    func() string
}

type Option func(*Service)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the UUID generator used for new log ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService builds a Service. Zero config values fall back to their defaults.
func NewService(provider storage.Provider, repo persistence.LogRepository, config Config, logger *slog.Logger, opts ...Option) *Service {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}

	if config.BasePath == "" {
		config.BasePath = DefaultBasePath
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	s := &Service{
		provider: provider,
		repo:     repo,
		config:   config,
		logger:   logger.With("module", "logstore"),
		tracer:   otelhelper.DefaultTracer(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		newID:    uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Config() Config {
	return s.config
}

// Backend reports the storage backend new payloads are offloaded to.
func (s *Service) Backend() models.StorageBackend {
	return s.provider.Backend()
}

// SaveLog stores one node log. Payloads at or above the threshold are uploaded
// before the row is inserted; a failed upload keeps the payload inline. An empty
// workspaceID means models.DefaultWorkspaceID.
func (s *Service) SaveLog(ctx context.Context, data *models.NodeLogData, workspaceID string) (*SaveResult, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: missing log data", ErrInvalidLog)
	}

	if err := s.validate.Struct(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLog, err)
	}

	if workspaceID == "" {
		workspaceID = models.DefaultWorkspaceID
	}

	record := models.NewLogRecord(s.newID(), workspaceID, data)

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "logstore.save",
		attribute.String(otelhelper.LogIDKey, record.ID),
		attribute.String(otelhelper.ExecutionIDKey, record.ExecutionID),
		attribute.String(otelhelper.WorkspaceIDKey, workspaceID),
		attribute.String(otelhelper.NodeIDKey, record.NodeID),
	)
	defer span.End()

	result := &SaveResult{LogID: record.ID}

	var err error

	record.Input, result.InputSize, err = s.place(ctx, record, models.PayloadFieldInput, data.Input)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	record.Output, result.OutputSize, err = s.place(ctx, record, models.PayloadFieldOutput, data.Output)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result.InputOffloaded = record.Input.IsOffloaded()
	result.OutputOffloaded = record.Output.IsOffloaded()

	err = s.repo.Insert(ctx, record)
	if err != nil {
		otelhelper.SetError(span, err)
		s.discardBlobs(ctx, record)

		return nil, fmt.Errorf("failed to save log %s: %w", record.ID, err)
	}

	s.logger.DebugContext(ctx, "Saved node log",
		"log_id", record.ID,
		"execution_id", record.ExecutionID,
		"input_offloaded", result.InputOffloaded,
		"output_offloaded", result.OutputOffloaded,
	)

	return result, nil
}

// place measures value and decides whether it stays inline or is offloaded.
func (s *Service) place(ctx context.Context, record *models.LogRecord, field models.PayloadField, value any) (models.Payload, int64, error) {
	value = normalizePayload(value)

	size, err := Measure(value)
	if err != nil {
		return models.Payload{}, 0, fmt.Errorf("failed to measure %s of log %s: %w", field, record.ID, err)
	}

	if value == nil || size < s.config.Threshold {
		if value != nil {
			s.metrics.RecordPayload(field, metrics.PlacementInline, size)
		}

		return models.Inline(value), size, nil
	}

	key := StorageKey(s.config.BasePath, record.WorkspaceID, record.ExecutionID, record.NodeID, field)

	_, err = s.provider.Upload(ctx, key, value, &storage.UploadOptions{
		CustomMetadata: map[string]string{
			"log-id":       record.ID,
			"execution-id": record.ExecutionID,
			"node-id":      record.NodeID,
			"field":        string(field),
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to offload payload, storing inline",
			"log_id", record.ID,
			"field", field,
			"key", key,
			"size", size,
			"error", err,
		)
		s.metrics.RecordPayload(field, metrics.PlacementFallback, size)

		return models.Inline(value), size, nil
	}

	s.metrics.RecordPayload(field, metrics.PlacementOffloaded, size)

	return models.Offloaded(models.StoragePointer{
		Backend:     s.provider.Backend(),
		Key:         key,
		Size:        size,
		OffloadedAt: time.Now().UTC(),
	}), size, nil
}

// discardBlobs removes blobs uploaded for a row that was never inserted.
func (s *Service) discardBlobs(ctx context.Context, record *models.LogRecord) {
	keys := pointerKeys(record)
	if len(keys) == 0 {
		return
	}

	for _, failed := range storage.FailedDeletes(s.provider.DeleteMany(ctx, keys)) {
		s.logger.WarnContext(ctx, "Failed to remove blob of unsaved log",
			"log_id", record.ID,
			"key", failed.Key,
			"error", failed.Err,
		)
	}
}

// GetLog loads a log and downloads its offloaded payloads. A payload that cannot
// be downloaded is left as its storage pointer; the other field still hydrates.
func (s *Service) GetLog(ctx context.Context, logID string) (*models.LogRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "logstore.get",
		attribute.String(otelhelper.LogIDKey, logID),
	)
	defer span.End()

	record, err := s.repo.GetByID(ctx, logID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, record.ExecutionID))

	record.Input = s.hydrate(ctx, record.ID, models.PayloadFieldInput, record.Input)
	record.Output = s.hydrate(ctx, record.ID, models.PayloadFieldOutput, record.Output)

	return record, nil
}

func (s *Service) hydrate(ctx context.Context, logID string, field models.PayloadField, payload models.Payload) models.Payload {
	pointer, ok := payload.Pointer()
	if !ok {
		return payload
	}

	var err error

	if pointer.Backend != s.provider.Backend() {
		err = fmt.Errorf("pointer backend %q does not match configured backend %q", pointer.Backend, s.provider.Backend())
	} else {
		var downloaded *storage.DownloadResult

		downloaded, err = s.provider.Download(ctx, pointer.Key, nil)
		if err == nil {
			return models.Inline(downloaded.Data)
		}
	}

	s.logger.WarnContext(ctx, "Failed to hydrate offloaded payload",
		"log_id", logID,
		"field", field,
		"key", pointer.Key,
		"error", err,
	)
	s.metrics.RecordHydrationFailure(field)

	return payload
}

// GetLogs reads logIDs in fixed-size batches of Config.BatchSize concurrent reads.
// One failed read never affects the others.
func (s *Service) GetLogs(ctx context.Context, logIDs []string) map[string]GetResult {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "logstore.get_batch",
		attribute.Int(otelhelper.BatchSizeKey, len(logIDs)),
	)
	defer span.End()

	results := make([]GetResult, len(logIDs))

	for start := 0; start < len(logIDs); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(logIDs))

		var group errgroup.Group

		for i := start; i < end; i++ {
			group.Go(func() error {
				record, err := s.GetLog(ctx, logIDs[i])
				results[i] = GetResult{Log: record, Err: err}

				return nil
			})
		}

		_ = group.Wait()
	}

	byID := make(map[string]GetResult, len(logIDs))
	for i, id := range logIDs {
		byID[id] = results[i]
	}

	return byID
}

// DeleteOffloadedData removes every blob referenced by the log. The row itself is
// left untouched; use DeleteLog to remove both.
func (s *Service) DeleteOffloadedData(ctx context.Context, logID string) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "logstore.delete_offloaded",
		attribute.String(otelhelper.LogIDKey, logID),
	)
	defer span.End()

	record, err := s.repo.GetByID(ctx, logID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err = s.deleteBlobs(ctx, record)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (s *Service) deleteBlobs(ctx context.Context, record *models.LogRecord) error {
	keys := pointerKeys(record)
	if len(keys) == 0 {
		return nil
	}

	var errs []error

	for _, failed := range storage.FailedDeletes(s.provider.DeleteMany(ctx, keys)) {
		errs = append(errs, failed.Err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to delete offloaded data of log %s: %w", record.ID, errors.Join(errs...))
	}

	return nil
}

// DeleteLog removes the log's blobs and then its row. When a blob cannot be
// deleted the row is kept, so its pointers remain available for a retry.
func (s *Service) DeleteLog(ctx context.Context, logID string) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "logstore.delete",
		attribute.String(otelhelper.LogIDKey, logID),
	)
	defer span.End()

	record, err := s.repo.GetByID(ctx, logID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err = s.deleteBlobs(ctx, record)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err = s.repo.Delete(ctx, logID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to delete log %s: %w", logID, err)
	}

	return nil
}

// DeleteExecutionLogs deletes every log of an execution and returns how many were
// removed. Failures are joined and do not stop the remaining deletions.
func (s *Service) DeleteExecutionLogs(ctx context.Context, executionID string) (int, error) {
	ids, err := s.repo.ListIDsByExecution(ctx, executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list logs of execution %s: %w", executionID, err)
	}

	return s.DeleteLogs(ctx, ids)
}

// DeleteLogs runs DeleteLog for each id and returns how many succeeded.
func (s *Service) DeleteLogs(ctx context.Context, logIDs []string) (int, error) {
	var (
		deleted int
		errs    []error
	)

	for _, id := range logIDs {
		if err := s.DeleteLog(ctx, id); err != nil {
			errs = append(errs, err)

			continue
		}

		deleted++
	}

	return deleted, errors.Join(errs...)
}

// SignedURL returns a time-limited URL to an offloaded payload.
func (s *Service) SignedURL(ctx context.Context, logID string, field models.PayloadField, expires time.Duration) (string, error) {
	record, err := s.repo.GetByID(ctx, logID)
	if err != nil {
		return "", err
	}

	var payload models.Payload

	switch field {
	case models.PayloadFieldInput:
		payload = record.Input
	case models.PayloadFieldOutput:
		payload = record.Output
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	pointer, ok := payload.Pointer()
	if !ok {
		return "", fmt.Errorf("%s of log %s: %w", field, logID, ErrNotOffloaded)
	}

	return s.provider.SignedURL(ctx, pointer.Key, expires)
}

// HealthCheck probes the storage provider.
func (s *Service) HealthCheck(ctx context.Context) error {
	err := s.provider.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("storage provider %s is unhealthy: %w", s.provider.Backend(), err)
	}

	return nil
}

func pointerKeys(record *models.LogRecord) []string {
	pointers := record.Pointers()

	keys := make([]string, 0, len(pointers))
	for _, pointer := range pointers {
		keys = append(keys, pointer.Key)
	}

	return keys
}
