// Package rediscache wraps a storage.Provider with a read-through Redis cache for
// hydrated payloads.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dukex/nodelog/pkg/storage"
)

const (
	DefaultTTL       = 10 * time.Minute
	DefaultKeyPrefix = "nodelog:blob:"
)

type Config struct {
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// Provider caches Download results. Writes and deletes invalidate the cached entry;
// every other call goes straight to the wrapped provider. Redis failures are logged
// and never fail a call the wrapped provider could serve.
type Provider struct {
	storage.Provider

	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

type entry struct {
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

func NewProvider(inner storage.Provider, client redis.UniversalClient, cfg Config, logger *slog.Logger) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	return &Provider{
		Provider: inner,
		client:   client,
		ttl:      cfg.TTL,
		prefix:   cfg.KeyPrefix,
		logger:   logger.With("module", "blob_cache"),
	}
}

func (p *Provider) Upload(ctx context.Context, key string, data any, opts *storage.UploadOptions) (*storage.UploadResult, error) {
	result, err := p.Provider.Upload(ctx, key, data, opts)

	p.invalidate(ctx, key)

	return result, err
}

func (p *Provider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	raw := opts != nil && opts.Raw

	if cached, ok := p.lookup(ctx, key); ok {
		value, err := storage.Decode([]byte(cached.Body), cached.ContentType, raw)
		if err == nil {
			return &storage.DownloadResult{
				Data:        value,
				Size:        int64(len(cached.Body)),
				ContentType: cached.ContentType,
			}, nil
		}

		p.logger.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "error", err)
		p.invalidate(ctx, key)
	}

	result, err := p.Provider.Download(ctx, key, &storage.DownloadOptions{Raw: true})
	if err != nil {
		return nil, err
	}

	body, ok := result.Data.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected raw download type %T for %q", result.Data, key)
	}

	value, err := storage.Decode([]byte(body), result.ContentType, raw)
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, err)
	}

	p.store(ctx, key, entry{ContentType: result.ContentType, Body: body})

	return &storage.DownloadResult{
		Data:        value,
		Size:        result.Size,
		ContentType: result.ContentType,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	err := p.Provider.Delete(ctx, key)

	p.invalidate(ctx, key)

	return err
}

func (p *Provider) DeleteMany(ctx context.Context, keys []string) []storage.DeleteResult {
	results := p.Provider.DeleteMany(ctx, keys)

	p.invalidate(ctx, keys...)

	return results
}

func (p *Provider) lookup(ctx context.Context, key string) (entry, bool) {
	payload, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		}

		return entry{}, false
	}

	var cached entry

	err = json.Unmarshal(payload, &cached)
	if err != nil {
		p.logger.WarnContext(ctx, "cache entry is not valid JSON", "key", key, "error", err)

		return entry{}, false
	}

	return cached, true
}

func (p *Provider) store(ctx context.Context, key string, cached entry) {
	payload, err := json.Marshal(cached)
	if err != nil {
		return
	}

	err = p.client.Set(ctx, p.prefix+key, payload, p.ttl).Err()
	if err != nil {
		p.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// invalidate deletes one cache key per command so it also works on a Redis Cluster.
func (p *Provider) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	pipe := p.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, p.prefix+key)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "cache invalidation failed", "keys", len(keys), "error", err)
	}
}

// HealthCheck reports the wrapped provider's health. An unreachable cache is logged
// but does not make the provider unhealthy.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		p.logger.WarnContext(ctx, "cache unreachable", "error", err)
	}

	return p.Provider.HealthCheck(ctx)
}
