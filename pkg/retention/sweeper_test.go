package retention

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/nodelog/pkg/mocks"
	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/dukex/nodelog/pkg/persistence/file"
)

type fakeDeleter struct {
	mu      sync.Mutex
	calls   [][]string
	failing map[string]bool
}

func (d *fakeDeleter) DeleteLogs(_ context.Context, ids []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, ids)

	var (
		deleted int
		errs    []error
	)

	for _, id := range ids {
		if d.failing[id] {
			errs = append(errs, errors.New("cannot delete "+id))

			continue
		}

		deleted++
	}

	return deleted, errors.Join(errs...)
}

func (d *fakeDeleter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSweeper(t *testing.T) {
	sweeper, err := NewSweeper(&mocks.MockLogRepository{}, &fakeDeleter{}, Config{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, sweeper.config.Schedule)
	assert.Equal(t, DefaultRetention, sweeper.config.Retention)
	assert.Equal(t, DefaultBatchSize, sweeper.config.BatchSize)

	_, err = NewSweeper(&mocks.MockLogRepository{}, &fakeDeleter{}, Config{Schedule: "not a cron"}, testLogger())
	assert.Error(t, err)
}

func expiredPage(startedAt time.Time, ids ...string) []persistence.ExpiredLog {
	page := make([]persistence.ExpiredLog, 0, len(ids))
	for i, id := range ids {
		page = append(page, persistence.ExpiredLog{ID: id, StartedAt: startedAt.Add(time.Duration(i) * time.Minute)})
	}

	return page
}

func TestSweeper_SweepPages(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-24 * time.Hour)
	first := expiredPage(cutoff.Add(-time.Hour), "a", "b")
	second := expiredPage(cutoff.Add(-time.Minute), "c")

	repo := &mocks.MockLogRepository{}
	repo.On("ListExpired", mock.Anything, cutoff, (*persistence.ExpiredLog)(nil), 2).Return(first, nil).Once()
	repo.On("ListExpired", mock.Anything, cutoff, &first[1], 2).Return(second, nil).Once()
	repo.On("ListExpired", mock.Anything, cutoff, &second[0], 2).Return([]persistence.ExpiredLog{}, nil).Once()

	deleter := &fakeDeleter{}

	sweeper, err := NewSweeper(repo, deleter, Config{Retention: 24 * time.Hour, BatchSize: 2}, testLogger())
	require.NoError(t, err)

	sweeper.now = func() time.Time { return now }

	deleted, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, deleter.calls)

	repo.AssertExpectations(t)
}

func TestSweeper_ReportsUndeletableLogs(t *testing.T) {
	stuck := expiredPage(time.Now().UTC().Add(-90*24*time.Hour), "stuck")

	repo := &mocks.MockLogRepository{}
	repo.On("ListExpired", mock.Anything, mock.Anything, (*persistence.ExpiredLog)(nil), mock.Anything).Return(stuck, nil).Once()
	repo.On("ListExpired", mock.Anything, mock.Anything, &stuck[0], mock.Anything).Return([]persistence.ExpiredLog{}, nil).Once()

	deleter := &fakeDeleter{failing: map[string]bool{"stuck": true}}

	sweeper, err := NewSweeper(repo, deleter, Config{}, testLogger())
	require.NoError(t, err)

	deleted, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot delete stuck")
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 1, deleter.callCount())

	repo.AssertExpectations(t)
}

// repoDeleter removes rows from a repository unless the id is marked as failing.
type repoDeleter struct {
	repo    persistence.LogRepository
	failing map[string]bool
}

func (d *repoDeleter) DeleteLogs(ctx context.Context, ids []string) (int, error) {
	var (
		deleted int
		errs    []error
	)

	for _, id := range ids {
		if d.failing[id] {
			errs = append(errs, errors.New("blob delete failed for "+id))

			continue
		}

		if err := d.repo.Delete(ctx, id); err != nil {
			errs = append(errs, err)

			continue
		}

		deleted++
	}

	return deleted, errors.Join(errs...)
}

func TestSweeper_SkipsPastOlderFailures(t *testing.T) {
	repo := file.NewPersistence(t.TempDir())
	base := time.Now().UTC().Add(-72 * time.Hour)

	for i, id := range []string{"bad-1", "bad-2", "good-1", "good-2", "good-3"} {
		record := models.NewLogRecord(id, models.DefaultWorkspaceID, &models.NodeLogData{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			NodeID:      "node-" + id,
			NodeType:    "transform",
			Status:      models.NodeLogStatusSuccess,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, repo.Insert(t.Context(), record))
	}

	deleter := &repoDeleter{repo: repo, failing: map[string]bool{"bad-1": true, "bad-2": true}}

	sweeper, err := NewSweeper(repo, deleter, Config{Retention: 24 * time.Hour, BatchSize: 2}, testLogger())
	require.NoError(t, err)

	deleted, err := sweeper.Sweep(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob delete failed for bad-1")
	assert.Equal(t, 3, deleted)

	remaining, err := repo.ListExpired(t.Context(), time.Now().UTC(), nil, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "bad-1", remaining[0].ID)
	assert.Equal(t, "bad-2", remaining[1].ID)

	deleted, err = sweeper.Sweep(t.Context())
	require.Error(t, err)
	assert.Equal(t, 0, deleted)
}

func TestSweeper_ListFailure(t *testing.T) {
	repo := &mocks.MockLogRepository{}
	repo.On("ListExpired", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	sweeper, err := NewSweeper(repo, &fakeDeleter{}, Config{}, testLogger())
	require.NoError(t, err)

	_, err = sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestSweeper_StartRunsOnSchedule(t *testing.T) {
	repo := &mocks.MockLogRepository{}
	repo.On("ListExpired", mock.Anything, mock.Anything, (*persistence.ExpiredLog)(nil), mock.Anything).
		Return(expiredPage(time.Now().UTC().Add(-90*24*time.Hour), "x"), nil).Once()
	repo.On("ListExpired", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]persistence.ExpiredLog{}, nil)

	deleter := &fakeDeleter{}

	sweeper, err := NewSweeper(repo, deleter, Config{Schedule: "@every 1s"}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sweeper.Start(ctx))

	assert.Eventually(t, func() bool { return deleter.callCount() >= 1 }, 5*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sweeper.Stop(stopCtx)
}
