package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/storage"
)

// MockProvider is a mock implementation of storage.Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Backend() models.StorageBackend {
	args := m.Called()

	return args.Get(0).(models.StorageBackend)
}

func (m *MockProvider) Upload(ctx context.Context, key string, data any, opts *storage.UploadOptions) (*storage.UploadResult, error) {
	args := m.Called(ctx, key, data, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*storage.UploadResult), args.Error(1)
}

func (m *MockProvider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	args := m.Called(ctx, key, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*storage.DownloadResult), args.Error(1)
}

func (m *MockProvider) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)

	return args.Error(0)
}

func (m *MockProvider) DeleteMany(ctx context.Context, keys []string) []storage.DeleteResult {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]storage.DeleteResult)
}

func (m *MockProvider) Exists(ctx context.Context, key string) bool {
	args := m.Called(ctx, key)

	return args.Bool(0)
}

func (m *MockProvider) GetMetadata(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*storage.ObjectMetadata), args.Error(1)
}

func (m *MockProvider) List(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*storage.ListResult), args.Error(1)
}

func (m *MockProvider) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	args := m.Called(ctx, key, expires)

	return args.String(0), args.Error(1)
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
