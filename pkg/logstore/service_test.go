package logstore_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/mocks"
	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/dukex/nodelog/pkg/persistence/file"
	"github.com/dukex/nodelog/pkg/storage"
	"github.com/dukex/nodelog/pkg/storage/local"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	service  *logstore.Service
	provider *local.Provider
	repo     *file.Persistence
}

func newFixture(t *testing.T, threshold int64) *fixture {
	t.Helper()

	provider, err := local.NewProvider(local.Config{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	repo := file.NewPersistence(t.TempDir())

	service := logstore.NewService(provider, repo, logstore.Config{Threshold: threshold}, testLogger())

	return &fixture{service: service, provider: provider, repo: repo}
}

func nodeLog(executionID, nodeID string, input, output any) *models.NodeLogData {
	return &models.NodeLogData{
		ExecutionID: executionID,
		WorkflowID:  "wf-1",
		NodeID:      nodeID,
		NodeType:    "httprequest",
		Status:      models.NodeLogStatusSuccess,
		StartedAt:   time.Now().UTC(),
		Input:       input,
		Output:      output,
	}
}

func (f *fixture) listExecution(t *testing.T, executionID string) []storage.ObjectInfo {
	t.Helper()

	result, err := f.provider.List(context.Background(), storage.ListOptions{
		Prefix: logstore.ExecutionPrefix(logstore.DefaultBasePath, models.DefaultWorkspaceID, executionID),
	})
	require.NoError(t, err)

	return result.Objects
}

func TestNewService_Defaults(t *testing.T) {
	service := logstore.NewService(&mocks.MockProvider{}, &mocks.MockLogRepository{}, logstore.Config{}, testLogger())

	assert.Equal(t, logstore.DefaultConfig(), service.Config())
	assert.Equal(t, int64(10240), service.Config().Threshold)
}

func TestSaveLog_RoundTrip(t *testing.T) {
	f := newFixture(t, 64)
	ctx := context.Background()

	large := strings.Repeat("x", 200)

	tests := []struct {
		name   string
		input  any
		output any
	}{
		{name: "both nil", input: nil, output: nil},
		{name: "small values", input: map[string]any{"a": float64(1)}, output: "ok"},
		{name: "large string", input: large, output: true},
		{name: "large object", input: map[string]any{"body": large, "tags": []any{"a", "b"}}, output: float64(3)},
		{name: "large list", input: nil, output: []any{large, map[string]any{"n": nil}}},
		{name: "empty string", input: "", output: []any{}},
		{name: "pointer-shaped user data", input: map[string]any{"backend": "s3", "key": "k", "size": float64(1)}, output: nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := f.service.SaveLog(ctx, nodeLog("exec-rt", fmt.Sprintf("node-%d", i), tt.input, tt.output), "")
			require.NoError(t, err)

			loaded, err := f.service.GetLog(ctx, saved.LogID)
			require.NoError(t, err)

			assert.Equal(t, tt.input, loaded.Input.Value())
			assert.Equal(t, tt.output, loaded.Output.Value())
			assert.False(t, loaded.Input.IsOffloaded())
			assert.False(t, loaded.Output.IsOffloaded())
			assert.Equal(t, models.DefaultWorkspaceID, loaded.WorkspaceID)

			data := loaded.NodeLogData()
			assert.Equal(t, tt.input, data.Input)
			assert.Equal(t, tt.output, data.Output)
		})
	}
}

func TestSaveLog_ThresholdBoundary(t *testing.T) {
	const threshold = 100

	f := newFixture(t, threshold)
	ctx := context.Background()

	saved, err := f.service.SaveLog(ctx, nodeLog("exec-b", "node-1",
		strings.Repeat("i", threshold-1),
		strings.Repeat("o", threshold),
	), "")
	require.NoError(t, err)

	assert.False(t, saved.InputOffloaded)
	assert.True(t, saved.OutputOffloaded)
	assert.Equal(t, int64(threshold-1), saved.InputSize)
	assert.Equal(t, int64(threshold), saved.OutputSize)

	raw, err := f.repo.GetByID(ctx, saved.LogID)
	require.NoError(t, err)
	assert.False(t, raw.Input.IsOffloaded())

	pointer, ok := raw.Output.Pointer()
	require.True(t, ok)
	assert.Equal(t, models.StorageBackendLocal, pointer.Backend)
	assert.Equal(t, int64(threshold), pointer.Size)
	assert.Equal(t, "execution-logs/default/exec-b/node-1_output.json", pointer.Key)
	assert.False(t, pointer.OffloadedAt.IsZero())
}

func TestSaveLog_MixedPlacement(t *testing.T) {
	f := newFixture(t, logstore.DefaultThreshold)
	ctx := context.Background()

	input := map[string]any{"data": strings.Repeat("a", 5*1024)}
	output := map[string]any{"data": strings.Repeat("b", 50*1024)}

	saved, err := f.service.SaveLog(ctx, nodeLog("exec-mixed", "node/with spaces", input, output), "ws-1")
	require.NoError(t, err)

	assert.False(t, saved.InputOffloaded)
	assert.True(t, saved.OutputOffloaded)
	assert.Less(t, saved.InputSize, logstore.DefaultThreshold)
	assert.Greater(t, saved.OutputSize, int64(50*1024))

	raw, err := f.repo.GetByID(ctx, saved.LogID)
	require.NoError(t, err)

	pointer, ok := raw.Output.Pointer()
	require.True(t, ok)
	assert.Equal(t, "execution-logs/ws-1/exec-mixed/node_with_spaces_output.json", pointer.Key)

	loaded, err := f.service.GetLog(ctx, saved.LogID)
	require.NoError(t, err)
	assert.Equal(t, input, loaded.Input.Value())
	assert.Equal(t, output, loaded.Output.Value())
}

func TestSaveLog_ExecutionCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping bulk test in short mode")
	}

	f := newFixture(t, 1024)
	ctx := context.Background()

	payload := map[string]any{"blob": strings.Repeat("z", 2048)}
	ids := make([]string, 0, 1000)

	for i := range 1000 {
		saved, err := f.service.SaveLog(ctx, nodeLog("exec-bulk", fmt.Sprintf("node-%04d", i), nil, payload), "")
		require.NoError(t, err)
		require.True(t, saved.OutputOffloaded)

		ids = append(ids, saved.LogID)
	}

	assert.Len(t, f.listExecution(t, "exec-bulk"), 1000)

	for _, id := range ids {
		require.NoError(t, f.service.DeleteOffloadedData(ctx, id))
	}

	assert.Empty(t, f.listExecution(t, "exec-bulk"))
}

func TestSaveLog_SlashedIDsDoNotShareBlobs(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()

	first, err := f.service.SaveLog(ctx, nodeLog("b/c", "n1", nil, strings.Repeat("A", 64)), "ws")
	require.NoError(t, err)
	require.True(t, first.OutputOffloaded)

	second, err := f.service.SaveLog(ctx, nodeLog("c", "n1", nil, strings.Repeat("B", 64)), "ws/b")
	require.NoError(t, err)
	require.True(t, second.OutputOffloaded)

	loaded, err := f.service.GetLog(ctx, first.LogID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", 64), loaded.Output.Value())

	require.NoError(t, f.service.DeleteLog(ctx, second.LogID))

	loaded, err = f.service.GetLog(ctx, first.LogID)
	require.NoError(t, err)
	assert.False(t, loaded.Output.IsOffloaded())
	assert.Equal(t, strings.Repeat("A", 64), loaded.Output.Value())
}

func TestSaveLog_BytesReadBackAlikeInlineAndOffloaded(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()

	small := []byte("tiny")
	large := []byte(strings.Repeat("<bytes>", 8))

	saved, err := f.service.SaveLog(ctx, nodeLog("exec-bytes", "node-1", small, large), "")
	require.NoError(t, err)
	assert.False(t, saved.InputOffloaded)
	assert.True(t, saved.OutputOffloaded)
	assert.Equal(t, int64(8), saved.InputSize)
	assert.Equal(t, int64(76), saved.OutputSize)

	loaded, err := f.service.GetLog(ctx, saved.LogID)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(small), loaded.Input.Value())
	assert.Equal(t, base64.StdEncoding.EncodeToString(large), loaded.Output.Value())
}

func TestSaveLog_UploadFailureFallsBackInline(t *testing.T) {
	ctx := context.Background()
	provider := &mocks.MockProvider{}
	provider.On("Backend").Return(models.StorageBackendS3)
	provider.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("bucket unreachable"))

	repo := file.NewPersistence(t.TempDir())
	service := logstore.NewService(provider, repo, logstore.Config{Threshold: 10}, testLogger())

	output := strings.Repeat("big", 100)

	saved, err := service.SaveLog(ctx, nodeLog("exec-f", "node-1", nil, output), "")
	require.NoError(t, err)
	assert.False(t, saved.OutputOffloaded)
	assert.Equal(t, int64(300), saved.OutputSize)

	raw, err := repo.GetByID(ctx, saved.LogID)
	require.NoError(t, err)
	assert.False(t, raw.Output.IsOffloaded())
	assert.Equal(t, output, raw.Output.Value())

	provider.AssertNumberOfCalls(t, "Upload", 1)
}

func TestSaveLog_Validation(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.service.SaveLog(ctx, nil, "")
	assert.ErrorIs(t, err, logstore.ErrInvalidLog)

	missing := nodeLog("", "node-1", nil, nil)
	_, err = f.service.SaveLog(ctx, missing, "")
	assert.ErrorIs(t, err, logstore.ErrInvalidLog)

	badStatus := nodeLog("exec-1", "node-1", nil, nil)
	badStatus.Status = "exploded"
	_, err = f.service.SaveLog(ctx, badStatus, "")
	assert.ErrorIs(t, err, logstore.ErrInvalidLog)

	unserializable := nodeLog("exec-1", "node-1", make(chan int), nil)
	_, err = f.service.SaveLog(ctx, unserializable, "")
	assert.Error(t, err)
}

func TestSaveLog_InsertFailureDiscardsBlobs(t *testing.T) {
	ctx := context.Background()

	provider, err := local.NewProvider(local.Config{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	repo := &mocks.MockLogRepository{}
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("database is down"))

	service := logstore.NewService(provider, repo, logstore.Config{Threshold: 10}, testLogger())

	_, err = service.SaveLog(ctx, nodeLog("exec-i", "node-1", strings.Repeat("a", 50), strings.Repeat("b", 50)), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is down")

	result, err := provider.List(ctx, storage.ListOptions{Prefix: "execution-logs/"})
	require.NoError(t, err)
	assert.Empty(t, result.Objects)
}

func TestGetLog_HydrationFailureKeepsPointer(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	input := strings.Repeat("in", 20)
	saved, err := f.service.SaveLog(ctx, nodeLog("exec-h", "node-1", input, strings.Repeat("out", 20)), "")
	require.NoError(t, err)
	require.True(t, saved.InputOffloaded)
	require.True(t, saved.OutputOffloaded)

	require.NoError(t, f.provider.Delete(ctx, "execution-logs/default/exec-h/node-1_output.json"))

	loaded, err := f.service.GetLog(ctx, saved.LogID)
	require.NoError(t, err)

	assert.Equal(t, input, loaded.Input.Value())

	pointer, ok := loaded.Output.Pointer()
	require.True(t, ok)
	assert.Equal(t, "execution-logs/default/exec-h/node-1_output.json", pointer.Key)
	assert.Equal(t, pointer, loaded.NodeLogData().Output)
}

func TestGetLog_BackendMismatchKeepsPointer(t *testing.T) {
	ctx := context.Background()
	provider := &mocks.MockProvider{}
	provider.On("Backend").Return(models.StorageBackendLocal)

	record := models.NewLogRecord("log-1", "default", nodeLog("exec-1", "node-1", nil, nil))
	record.Output = models.Offloaded(models.StoragePointer{Backend: models.StorageBackendS3, Key: "k", Size: 1})

	repo := &mocks.MockLogRepository{}
	repo.On("GetByID", mock.Anything, "log-1").Return(record, nil)

	service := logstore.NewService(provider, repo, logstore.Config{}, testLogger())

	loaded, err := service.GetLog(ctx, "log-1")
	require.NoError(t, err)
	assert.True(t, loaded.Output.IsOffloaded())

	provider.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetLog_NotFound(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.service.GetLog(context.Background(), "missing")
	assert.True(t, persistence.IsLogNotFound(err))
}

// countingProvider tracks how many downloads run at the same time.
type countingProvider struct {
	storage.Provider

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *countingProvider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	current := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	for {
		peak := p.peak.Load()
		if current <= peak || p.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)

	return p.Provider.Download(ctx, key, opts)
}

func TestGetLogs_Batches(t *testing.T) {
	ctx := context.Background()

	inner, err := local.NewProvider(local.Config{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	provider := &countingProvider{Provider: inner}
	repo := file.NewPersistence(t.TempDir())
	service := logstore.NewService(provider, repo, logstore.Config{Threshold: 10, BatchSize: 10}, testLogger())

	ids := make([]string, 0, 21)

	for i := range 20 {
		saved, err := service.SaveLog(ctx, nodeLog("exec-batch", fmt.Sprintf("node-%d", i), nil, fmt.Sprintf("output number %d", i)), "")
		require.NoError(t, err)

		ids = append(ids, saved.LogID)
	}

	ids = append(ids, "missing-log")

	results := service.GetLogs(ctx, ids)
	require.Len(t, results, 21)

	for i, id := range ids[:20] {
		result := results[id]
		require.NoError(t, result.Err)
		assert.Equal(t, fmt.Sprintf("output number %d", i), result.Log.Output.Value())
	}

	assert.True(t, persistence.IsLogNotFound(results["missing-log"].Err))
	assert.LessOrEqual(t, provider.peak.Load(), int32(10))
	assert.Positive(t, provider.peak.Load())
}

func TestDeleteLog(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	saved, err := f.service.SaveLog(ctx, nodeLog("exec-d", "node-1", strings.Repeat("i", 20), "small"), "")
	require.NoError(t, err)
	require.Len(t, f.listExecution(t, "exec-d"), 1)

	require.NoError(t, f.service.DeleteLog(ctx, saved.LogID))

	assert.Empty(t, f.listExecution(t, "exec-d"))

	_, err = f.repo.GetByID(ctx, saved.LogID)
	assert.True(t, persistence.IsLogNotFound(err))

	assert.True(t, persistence.IsLogNotFound(f.service.DeleteLog(ctx, saved.LogID)))
}

func TestDeleteLog_KeepsRowWhenBlobDeleteFails(t *testing.T) {
	ctx := context.Background()

	record := models.NewLogRecord("log-1", "default", nodeLog("exec-1", "node-1", nil, nil))
	record.Output = models.Offloaded(models.StoragePointer{Backend: models.StorageBackendS3, Key: "k1", Size: 1})

	provider := &mocks.MockProvider{}
	provider.On("DeleteMany", mock.Anything, []string{"k1"}).
		Return([]storage.DeleteResult{{Key: "k1", Err: errors.New("access denied")}})

	repo := &mocks.MockLogRepository{}
	repo.On("GetByID", mock.Anything, "log-1").Return(record, nil)

	service := logstore.NewService(provider, repo, logstore.Config{}, testLogger())

	err := service.DeleteLog(ctx, "log-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteOffloadedData_InlineOnlyIsNoop(t *testing.T) {
	ctx := context.Background()

	record := models.NewLogRecord("log-1", "default", nodeLog("exec-1", "node-1", "in", "out"))

	provider := &mocks.MockProvider{}
	repo := &mocks.MockLogRepository{}
	repo.On("GetByID", mock.Anything, "log-1").Return(record, nil)

	service := logstore.NewService(provider, repo, logstore.Config{}, testLogger())

	require.NoError(t, service.DeleteOffloadedData(ctx, "log-1"))
	provider.AssertNotCalled(t, "DeleteMany", mock.Anything, mock.Anything)
}

func TestDeleteExecutionLogs(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	for i := range 3 {
		_, err := f.service.SaveLog(ctx, nodeLog("exec-purge", fmt.Sprintf("node-%d", i), nil, strings.Repeat("o", 30)), "")
		require.NoError(t, err)
	}

	_, err := f.service.SaveLog(ctx, nodeLog("exec-keep", "node-0", nil, strings.Repeat("o", 30)), "")
	require.NoError(t, err)

	deleted, err := f.service.DeleteExecutionLogs(ctx, "exec-purge")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	assert.Empty(t, f.listExecution(t, "exec-purge"))
	assert.Len(t, f.listExecution(t, "exec-keep"), 1)

	ids, err := f.repo.ListIDsByExecution(ctx, "exec-purge")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSignedURL(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	saved, err := f.service.SaveLog(ctx, nodeLog("exec-s", "node-1", "tiny", strings.Repeat("o", 30)), "")
	require.NoError(t, err)

	signed, err := f.service.SignedURL(ctx, saved.LogID, models.PayloadFieldOutput, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "file://"))
	assert.True(t, strings.HasSuffix(signed, "node-1_output.json"))

	_, err = f.service.SignedURL(ctx, saved.LogID, models.PayloadFieldInput, time.Hour)
	assert.ErrorIs(t, err, logstore.ErrNotOffloaded)

	_, err = f.service.SignedURL(ctx, saved.LogID, "metadata", time.Hour)
	assert.ErrorIs(t, err, logstore.ErrInvalidField)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	provider := &mocks.MockProvider{}
	provider.On("Backend").Return(models.StorageBackendS3)
	provider.On("HealthCheck", ctx).Return(nil).Once()
	provider.On("HealthCheck", ctx).Return(errors.New("403")).Once()

	service := logstore.NewService(provider, &mocks.MockLogRepository{}, logstore.Config{}, testLogger())

	assert.NoError(t, service.HealthCheck(ctx))
	assert.ErrorContains(t, service.HealthCheck(ctx), "403")
}
