package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/persistence"
)

// MockLogRepository is a mock implementation of persistence.LogRepository interface.
type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) Insert(ctx context.Context, record *models.LogRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockLogRepository) GetByID(ctx context.Context, id string) (*models.LogRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.LogRecord), args.Error(1)
}

func (m *MockLogRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockLogRepository) ListIDsByExecution(ctx context.Context, executionID string) ([]string, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLogRepository) ListExpired(
	ctx context.Context, before time.Time, after *persistence.ExpiredLog, limit int,
) ([]persistence.ExpiredLog, error) {
	args := m.Called(ctx, before, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.ExpiredLog), args.Error(1)
}

func (m *MockLogRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockLogRepository) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
