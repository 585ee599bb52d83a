package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/nodelog/pkg/cmd"
	"github.com/dukex/nodelog/pkg/ingest"
	"github.com/dukex/nodelog/pkg/retention"
	"github.com/dukex/nodelog/pkg/web"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the HTTP API, and optionally the ingest consumer and retention sweeper",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "ingest",
				Usage:   "Consume node log events from the message bus",
				Sources: cli.EnvVars("INGEST_ENABLED"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for ingest; an in-memory channel is used when empty",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "retention",
				Usage:   "Delete expired logs on a schedule",
				Sources: cli.EnvVars("RETENTION_ENABLED"),
			},
			&cli.DurationFlag{
				Name:    "retention-period",
				Usage:   "Age after which logs are deleted",
				Sources: cli.EnvVars("LOG_RETENTION"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := newComponents(ctx, command)
			if err != nil {
				return err
			}

			defer c.closeLogged(context.Background())

			cfg := c.config

			c.logger.InfoContext(ctx, "Initializing nodelog",
				"backend", c.service.Backend(),
				"threshold", c.service.Config().Threshold,
				"ingest", cfg.Ingest.Enabled,
				"retention", cfg.Retention.Enabled)

			group, ctx := errgroup.WithContext(ctx)

			if cfg.Ingest.Enabled {
				publisher, subscriber, err := cmd.NewIngestChannel(cfg.Ingest, c.logger)
				if err != nil {
					return err
				}

				c.closers = append(c.closers, func(context.Context) error {
					return errors.Join(subscriber.Close(), publisher.Close())
				})

				consumer := ingest.NewConsumer(subscriber, c.service, c.logger)
				group.Go(func() error { return consumer.Run(ctx) })
			}

			if cfg.Retention.Enabled {
				sweeper, err := retention.NewSweeper(c.repo, c.service, cfg.Retention, c.logger)
				if err != nil {
					return err
				}

				err = sweeper.Start(ctx)
				if err != nil {
					return err
				}

				defer sweeper.Stop(context.Background())
			}

			var gatherer prometheus.Gatherer
			if cfg.Server.MetricsEnabled {
				gatherer = c.registry
			}

			handlers := web.NewAPIHandlers(c.service, c.repo, validator.New(validator.WithRequiredStructEnabled()), c.logger)
			app := web.NewApp(handlers, gatherer)

			group.Go(func() error {
				err := app.Listen(":"+strconv.Itoa(cfg.Server.Port), fiber.ListenConfig{DisableStartupMessage: true})
				if err != nil {
					return fmt.Errorf("api server stopped: %w", err)
				}

				return nil
			})

			group.Go(func() error {
				<-ctx.Done()

				c.logger.Info("Shutting down nodelog")

				return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
			})

			err = group.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}
}
