// Package retention deletes node logs, and their offloaded payloads, once their
// retention window has elapsed.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/nodelog/pkg/persistence"
)

const (
	DefaultSchedule  = "@hourly"
	DefaultRetention = 30 * 24 * time.Hour
	DefaultBatchSize = 100
)

type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"  validate:"gte=0"`
	BatchSize int           `yaml:"batch_size" validate:"gte=0"`
}

// Deleter removes logs together with their blobs. logstore.Service implements it.
type Deleter interface {
	DeleteLogs(ctx context.Context, logIDs []string) (int, error)
}

type Sweeper struct {
	repo    persistence.LogRepository
	deleter Deleter
	config  Config
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

func NewSweeper(repo persistence.LogRepository, deleter Deleter, config Config, logger *slog.Logger) (*Sweeper, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}

	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule: %w", err)
	}

	return &Sweeper{
		repo:    repo,
		deleter: deleter,
		config:  config,
		logger: logger.With(
			"module", "retention",
			"schedule", config.Schedule,
			"retention", config.Retention.String(),
		),
		now: time.Now,
	}, nil
}

// Sweep deletes every log started before now minus the retention window, one page
// of BatchSize logs at a time. Each page starts after the last log of the previous
// one, so logs that fail to delete are skipped until the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.config.Retention)

	var (
		total int
		after *persistence.ExpiredLog
		errs  []error
	)

	for {
		if err := ctx.Err(); err != nil {
			return total, errors.Join(append(errs, err)...)
		}

		page, err := s.repo.ListExpired(ctx, cutoff, after, s.config.BatchSize)
		if err != nil {
			return total, errors.Join(append(errs, fmt.Errorf("failed to list expired logs: %w", err))...)
		}

		if len(page) == 0 {
			break
		}

		ids := make([]string, 0, len(page))
		for _, entry := range page {
			ids = append(ids, entry.ID)
		}

		deleted, err := s.deleter.DeleteLogs(ctx, ids)
		total += deleted

		if err != nil {
			errs = append(errs, err)
		}

		after = &page[len(page)-1]
	}

	return total, errors.Join(errs...)
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting retention sweeper")

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.config.Schedule, func() { s.run(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	start := time.Now()

	deleted, err := s.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Retention sweep finished with errors", "deleted", deleted, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Retention sweep finished", "deleted", deleted, "duration", time.Since(start))
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}

	s.logger.InfoContext(ctx, "Stopping retention sweeper")

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
