package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/dukex/nodelog/pkg/cmd"
	"github.com/dukex/nodelog/pkg/config"
	"github.com/dukex/nodelog/pkg/log"
	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/metrics"
	"github.com/dukex/nodelog/pkg/otelhelper"
	"github.com/dukex/nodelog/pkg/persistence"
)

// components holds what every command shares.
type components struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	repo     persistence.LogRepository
	service  *logstore.Service
	closers  []func(context.Context) error
}

func newComponents(ctx context.Context, command *cli.Command) (*components, error) {
	cfg, err := loadConfig(command)
	if err != nil {
		return nil, err
	}

	logger := log.Setup(cfg.LogLevel, command.String("log-format"))

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	c := &components{config: cfg, logger: logger, registry: prometheus.NewRegistry()}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.New(c.registry)
	if err != nil {
		return nil, err
	}

	options := []logstore.Option{logstore.WithMetrics(m)}

	if cfg.Server.OtelEnabled {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.Server.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		c.closers = append(c.closers, shutdown)
		options = append(options, logstore.WithTracer(tracer))
	}

	provider, closeProvider, err := cmd.NewStorageProvider(ctx, cfg, m, logger)
	if err != nil {
		_ = c.Close(ctx)

		return nil, err
	}

	c.closers = append(c.closers, func(context.Context) error { return closeProvider() })

	repo, err := cmd.NewLogRepository(ctx, logger, cfg.Database.URL)
	if err != nil {
		_ = c.Close(ctx)

		return nil, err
	}

	c.repo = repo
	c.closers = append(c.closers, repo.Close)

	c.service = logstore.NewService(provider, repo, cfg.LogStore, logger, options...)

	return c, nil
}

// Close releases components in reverse order of creation.
func (c *components) Close(ctx context.Context) error {
	var errs []error

	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.closers = nil

	return errors.Join(errs...)
}

func (c *components) closeLogged(ctx context.Context) {
	if err := c.Close(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to release resources", "error", err)
	}
}
