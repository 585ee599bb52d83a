// Package main is the nodelog binary: the log storage API, its ingest consumer and
// maintenance commands.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/nodelog/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "nodelog",
		Usage:                 "Store node execution logs with large payloads offloaded to blob storage",
		EnableShellCompletion: true,
		Flags:                 globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			HealthCommand(),
			PurgeCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cli").Error("nodelog failed", "error", err)
		os.Exit(1)
	}
}
