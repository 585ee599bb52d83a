package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/nodelog/pkg/models"
)

const (
	ExecutionIDMetadataKey = "execution_id"
	NodeIDMetadataKey      = "node_id"
)

// Publisher emits node logs onto Topic.
type Publisher struct {
	publisher message.Publisher
}

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

func (p *Publisher) Publish(ctx context.Context, workspaceID string, data *models.NodeLogData) error {
	if data == nil {
		return fmt.Errorf("%w: missing log", ErrInvalidEvent)
	}

	payload, err := json.Marshal(NodeLogEvent{WorkspaceID: workspaceID, Log: data})
	if err != nil {
		return fmt.Errorf("failed to marshal node log event: %w", err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(ExecutionIDMetadataKey, data.ExecutionID)
	msg.Metadata.Set(NodeIDMetadataKey, data.NodeID)
	msg.SetContext(ctx)

	err = p.publisher.Publish(Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish node log event: %w", err)
	}

	return nil
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
