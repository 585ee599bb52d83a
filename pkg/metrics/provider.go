package metrics

import (
	"context"
	"time"

	"github.com/dukex/nodelog/pkg/storage"
)

type instrumentedProvider struct {
	storage.Provider

	metrics *Metrics
}

// InstrumentProvider records latency and errors of every call that reaches the
// backend. A nil Metrics returns provider unchanged.
func InstrumentProvider(provider storage.Provider, m *Metrics) storage.Provider {
	if m == nil {
		return provider
	}

	return &instrumentedProvider{Provider: provider, metrics: m}
}

func (p *instrumentedProvider) observe(operation string, start time.Time, err error) {
	p.metrics.observeProvider(p.Backend(), operation, time.Since(start).Seconds(), err != nil)
}

func (p *instrumentedProvider) Upload(ctx context.Context, key string, data any, opts *storage.UploadOptions) (*storage.UploadResult, error) {
	start := time.Now()
	result, err := p.Provider.Upload(ctx, key, data, opts)
	p.observe("upload", start, err)

	return result, err
}

func (p *instrumentedProvider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	start := time.Now()
	result, err := p.Provider.Download(ctx, key, opts)
	p.observe("download", start, err)

	return result, err
}

func (p *instrumentedProvider) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := p.Provider.Delete(ctx, key)
	p.observe("delete", start, err)

	return err
}

// DeleteMany counts an error when any key failed.
func (p *instrumentedProvider) DeleteMany(ctx context.Context, keys []string) []storage.DeleteResult {
	start := time.Now()
	results := p.Provider.DeleteMany(ctx, keys)

	var err error
	if failed := storage.FailedDeletes(results); len(failed) > 0 {
		err = failed[0].Err
	}

	p.observe("delete_many", start, err)

	return results
}

func (p *instrumentedProvider) GetMetadata(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	start := time.Now()
	metadata, err := p.Provider.GetMetadata(ctx, key)
	p.observe("get_metadata", start, err)

	return metadata, err
}

func (p *instrumentedProvider) List(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	start := time.Now()
	result, err := p.Provider.List(ctx, opts)
	p.observe("list", start, err)

	return result, err
}

func (p *instrumentedProvider) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := p.Provider.HealthCheck(ctx)
	p.observe("health_check", start, err)

	return err
}
