package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Probe the storage provider and the log repository once",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Time allowed for both probes",
				Value: 10 * time.Second,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			c, err := newComponents(ctx, command)
			if err != nil {
				return err
			}

			defer c.closeLogged(context.Background())

			var errs []error

			if err := c.service.HealthCheck(ctx); err != nil {
				errs = append(errs, err)
			} else {
				c.logger.InfoContext(ctx, "storage provider is healthy", "backend", c.service.Backend())
			}

			if err := c.repo.HealthCheck(ctx); err != nil {
				errs = append(errs, fmt.Errorf("log repository is unhealthy: %w", err))
			} else {
				c.logger.InfoContext(ctx, "log repository is healthy")
			}

			return errors.Join(errs...)
		},
	}
}
