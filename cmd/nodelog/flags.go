package main

import (
	"github.com/urfave/cli/v3"

	"github.com/dukex/nodelog/pkg/config"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			Sources: cli.EnvVars("NODELOG_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "postgres:// URL or directory of the file repository",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "storage-provider",
			Usage:   "Blob storage provider (s3, local); detected from the bucket when empty",
			Sources: cli.EnvVars("LOG_STORAGE_PROVIDER"),
		},
		&cli.Int64Flag{
			Name:    "offload-threshold",
			Usage:   "Payload size in bytes from which payloads are offloaded",
			Sources: cli.EnvVars("LOG_OFFLOAD_THRESHOLD"),
		},
		&cli.StringFlag{
			Name:    "storage-base-path",
			Usage:   "Key prefix of offloaded payloads",
			Sources: cli.EnvVars("LOG_STORAGE_BASE_PATH"),
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "S3 bucket for offloaded payloads",
			Sources: cli.EnvVars("S3_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "S3 region",
			Sources: cli.EnvVars("AWS_REGION"),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Custom S3 endpoint, e.g. a MinIO URL",
			Sources: cli.EnvVars("S3_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "s3-access-key-id",
			Usage:   "Static S3 access key; the default AWS credential chain is used when empty",
			Sources: cli.EnvVars("AWS_ACCESS_KEY_ID"),
		},
		&cli.StringFlag{
			Name:    "s3-secret-access-key",
			Usage:   "Static S3 secret key",
			Sources: cli.EnvVars("AWS_SECRET_ACCESS_KEY"),
		},
		&cli.BoolFlag{
			Name:    "s3-force-path-style",
			Usage:   "Use path-style S3 addressing",
			Sources: cli.EnvVars("S3_FORCE_PATH_STYLE"),
		},
		&cli.StringFlag{
			Name:    "local-storage-path",
			Usage:   "Base directory of the local storage provider",
			Sources: cli.EnvVars("LOCAL_STORAGE_PATH"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL enabling the download cache",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// loadConfig reads the config file and applies every flag the user set on top.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(flag string, target *string) {
		if command.IsSet(flag) {
			*target = command.String(flag)
		}
	}

	setBool := func(flag string, target *bool) {
		if command.IsSet(flag) {
			*target = command.Bool(flag)
		}
	}

	setString("log-level", &cfg.LogLevel)
	setString("database-url", &cfg.Database.URL)
	setString("storage-provider", &cfg.Storage.Provider)
	setString("storage-base-path", &cfg.LogStore.BasePath)
	setString("s3-bucket", &cfg.Storage.S3.Bucket)
	setString("s3-region", &cfg.Storage.S3.Region)
	setString("s3-endpoint", &cfg.Storage.S3.Endpoint)
	setString("s3-access-key-id", &cfg.Storage.S3.AccessKeyID)
	setString("s3-secret-access-key", &cfg.Storage.S3.SecretAccessKey)
	setBool("s3-force-path-style", &cfg.Storage.S3.ForcePathStyle)
	setString("local-storage-path", &cfg.Storage.Local.BasePath)
	setString("redis-url", &cfg.Redis.URL)
	setBool("otel-enabled", &cfg.Server.OtelEnabled)

	if command.IsSet("offload-threshold") {
		cfg.LogStore.Threshold = command.Int64("offload-threshold")
	}

	// serve flags
	if command.IsSet("port") {
		cfg.Server.Port = command.Int("port")
	}

	setBool("ingest", &cfg.Ingest.Enabled)
	setBool("retention", &cfg.Retention.Enabled)

	if command.IsSet("kafka-brokers") {
		cfg.Ingest.Brokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("retention-period") {
		cfg.Retention.Retention = command.Duration("retention-period")
	}

	return cfg, nil
}
