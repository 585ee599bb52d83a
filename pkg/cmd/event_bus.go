package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/nodelog/pkg/channels/gochannel"
	"github.com/dukex/nodelog/pkg/channels/kafka"
	"github.com/dukex/nodelog/pkg/config"
)

// NewIngestChannel returns Kafka pub/sub when brokers are configured and an
// in-memory channel otherwise.
func NewIngestChannel(cfg config.IngestConfig, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if len(cfg.Brokers) == 0 {
		pubSub := gochannel.CreateChannel(wmLogger, false)

		return pubSub, pubSub, nil
	}

	pub, sub, err := kafka.CreateChannel(wmLogger, cfg.Brokers, cfg.ConsumerGroup)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
	}

	return pub, sub, nil
}
