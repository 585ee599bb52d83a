// Package cmd wires configuration into the components the nodelog binary runs.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/nodelog/pkg/config"
	"github.com/dukex/nodelog/pkg/metrics"
	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/storage"
	"github.com/dukex/nodelog/pkg/storage/local"
	"github.com/dukex/nodelog/pkg/storage/rediscache"
	"github.com/dukex/nodelog/pkg/storage/s3"
)

// CloseFunc releases what a factory opened.
type CloseFunc func() error

// NewStorageProvider builds the configured provider once per process. Provider
// calls are instrumented when m is not nil, and downloads are cached in Redis when
// a Redis URL is configured.
func NewStorageProvider(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (storage.Provider, CloseFunc, error) {
	backend, err := cfg.Storage.Backend()
	if err != nil {
		return nil, nil, err
	}

	var provider storage.Provider

	switch backend {
	case models.StorageBackendS3:
		provider, err = s3.NewProvider(ctx, cfg.Storage.S3, logger)
	default:
		provider, err = local.NewProvider(cfg.Storage.Local, logger)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s storage provider: %w", backend, err)
	}

	logger.InfoContext(ctx, "storage provider selected", "backend", backend, "explicit", cfg.Storage.Provider != "")

	provider = metrics.InstrumentProvider(provider, m)

	if cfg.Redis.URL == "" {
		return provider, func() error { return nil }, nil
	}

	options, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	return rediscache.NewProvider(provider, client, cfg.Redis.Cache, logger), client.Close, nil
}
