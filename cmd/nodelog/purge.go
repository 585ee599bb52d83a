package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/dukex/nodelog/pkg/retention"
)

func PurgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete the logs of an execution, or every log older than a given age",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "execution-id",
				Usage: "Delete every log of this execution",
			},
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Delete every log started before now minus this duration",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			executionID := command.String("execution-id")
			olderThan := command.Duration("older-than")

			if (executionID == "") == (olderThan <= 0) {
				return errors.New("exactly one of --execution-id or --older-than is required")
			}

			c, err := newComponents(ctx, command)
			if err != nil {
				return err
			}

			defer c.closeLogged(context.Background())

			if executionID != "" {
				deleted, err := c.service.DeleteExecutionLogs(ctx, executionID)
				c.logger.InfoContext(ctx, "execution logs purged", "execution_id", executionID, "deleted", deleted)

				return err
			}

			retentionConfig := c.config.Retention
			retentionConfig.Retention = olderThan

			sweeper, err := retention.NewSweeper(c.repo, c.service, retentionConfig, c.logger)
			if err != nil {
				return err
			}

			deleted, err := sweeper.Sweep(ctx)
			c.logger.InfoContext(ctx, "expired logs purged", "older_than", olderThan, "deleted", deleted)

			return err
		},
	}
}
