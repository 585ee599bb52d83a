package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/models"
)

// Saver is the part of the log store the consumer writes through.
type Saver interface {
	SaveLog(ctx context.Context, data *models.NodeLogData, workspaceID string) (*logstore.SaveResult, error)
}

// Consumer saves every valid NodeLogEvent it receives. Malformed events are acked
// and dropped; events that fail to save are nacked for redelivery.
type Consumer struct {
	subscriber message.Subscriber
	saver      Saver
	logger     *slog.Logger
}

func NewConsumer(subscriber message.Subscriber, saver Saver, logger *slog.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		saver:      saver,
		logger:     logger.With("module", "ingest"),
	}
}

// Run blocks until ctx is cancelled or the subscription is closed.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	c.logger.InfoContext(ctx, "consuming node logs", "topic", Topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			if c.handle(ctx, msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}
}

// handle reports whether msg should be acked.
func (c *Consumer) handle(ctx context.Context, msg *message.Message) bool {
	logger := c.logger.With("message_uuid", msg.UUID)

	event, err := decodeEvent(msg.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "dropping node log event", "error", err)

		return true
	}

	result, err := c.saver.SaveLog(ctx, event.Log, event.WorkspaceID)
	if err != nil {
		if errors.Is(err, logstore.ErrInvalidLog) {
			logger.ErrorContext(ctx, "dropping node log event", "error", err)

			return true
		}

		logger.WarnContext(ctx, "failed to save node log, requesting redelivery",
			"execution_id", event.Log.ExecutionID,
			"node_id", event.Log.NodeID,
			"error", err)

		return false
	}

	logger.DebugContext(ctx, "node log saved",
		"log_id", result.LogID,
		"input_offloaded", result.InputOffloaded,
		"output_offloaded", result.OutputOffloaded)

	return true
}

func decodeEvent(payload []byte) (*NodeLogEvent, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	var event NodeLogEvent

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if event.Log == nil {
		return nil, fmt.Errorf("%w: missing log", ErrInvalidEvent)
	}

	return &event, nil
}
