// Package config holds the process configuration. Values come from an optional YAML
// file layered over Default; the CLI applies flags and environment variables on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/retention"
	"github.com/dukex/nodelog/pkg/storage/local"
	"github.com/dukex/nodelog/pkg/storage/rediscache"
	"github.com/dukex/nodelog/pkg/storage/s3"
)

const (
	DefaultLocalStoragePath = "./data/blobs"
	DefaultDatabaseURL      = "./data"
	DefaultPort             = 9091
	DefaultConsumerGroup    = "cg-nodelog"
)

var ErrUnknownProvider = errors.New("unknown storage provider")

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	LogStore  logstore.Config  `yaml:"logstore"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Retention retention.Config `yaml:"retention"`
	Server    ServerConfig     `yaml:"server"`
	LogLevel  string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// StorageConfig selects the blob storage provider. An empty Provider is
// auto-detected, see Backend.
type StorageConfig struct {
	Provider string       `yaml:"provider" validate:"omitempty,oneof=s3 local"`
	S3       s3.Config    `yaml:"s3"`
	Local    local.Config `yaml:"local"`
}

// DatabaseConfig points at the log repository: a postgres:// URL or a directory
// for the file repository.
type DatabaseConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// RedisConfig enables the hydration cache when URL is set.
type RedisConfig struct {
	URL   string            `yaml:"url"   validate:"omitempty,url"`
	Cache rediscache.Config `yaml:"cache"`
}

// IngestConfig enables the message bus consumer. Kafka is used when Brokers is
// set, the in-memory channel otherwise.
type IngestConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"        validate:"dive,hostname_port"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"             validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	OtelEnabled     bool          `yaml:"otel_enabled"`
	ServiceName     string        `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Local: local.Config{BasePath: DefaultLocalStoragePath},
		},
		LogStore: logstore.DefaultConfig(),
		Database: DatabaseConfig{URL: DefaultDatabaseURL},
		Redis: RedisConfig{
			Cache: rediscache.Config{
				TTL:       rediscache.DefaultTTL,
				KeyPrefix: rediscache.DefaultKeyPrefix,
			},
		},
		Ingest: IngestConfig{ConsumerGroup: DefaultConsumerGroup},
		Retention: retention.Config{
			Schedule:  retention.DefaultSchedule,
			Retention: retention.DefaultRetention,
			BatchSize: retention.DefaultBatchSize,
		},
		Server: ServerConfig{
			Port:            DefaultPort,
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
			ServiceName:     "nodelog",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over Default. An empty path returns Default unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// Backend resolves the storage provider kind: the explicit Provider when set,
// otherwise s3 when a bucket is configured and local storage as the fallback.
func (c StorageConfig) Backend() (models.StorageBackend, error) {
	switch c.Provider {
	case "":
		if c.S3.Bucket != "" {
			return models.StorageBackendS3, nil
		}

		return models.StorageBackendLocal, nil
	case string(models.StorageBackendS3):
		return models.StorageBackendS3, nil
	case string(models.StorageBackendLocal):
		return models.StorageBackendLocal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
}

// Validate checks struct tags and the settings of the selected provider only.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	backend, err := c.Storage.Backend()
	if err != nil {
		return err
	}

	err = validate.StructExcept(c, "Storage.S3", "Storage.Local")
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch backend {
	case models.StorageBackendS3:
		err = validate.Struct(c.Storage.S3)
	case models.StorageBackendLocal:
		err = validate.Struct(c.Storage.Local)
	}

	if err != nil {
		return fmt.Errorf("invalid %s storage configuration: %w", backend, err)
	}

	if c.Ingest.Enabled && len(c.Ingest.Brokers) > 0 && c.Ingest.ConsumerGroup == "" {
		return errors.New("invalid configuration: ingest consumer group is required with kafka brokers")
	}

	return nil
}
