// Package ingest receives node logs over a watermill message bus and hands them
// to the log store.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/nodelog/pkg/models"
)

// Topic carries NodeLogEvent messages.
const Topic = "nodelog.node.logs"

var ErrInvalidEvent = errors.New("invalid node log event")

// NodeLogEvent is the message body published by the execution engine.
type NodeLogEvent struct {
	WorkspaceID string              `json:"workspace_id,omitempty"`
	Log         *models.NodeLogData `json:"log"`
}

var eventSchema = map[string]any{
	"type":     "object",
	"required": []any{"log"},
	"properties": map[string]any{
		"workspace_id": map[string]any{"type": "string"},
		"log": map[string]any{
			"type": "object",
			"required": []any{
				"execution_id", "workflow_id", "node_id", "node_type", "status", "started_at",
			},
			"properties": map[string]any{
				"execution_id": map[string]any{"type": "string", "minLength": 1},
				"workflow_id":  map[string]any{"type": "string", "minLength": 1},
				"node_id":      map[string]any{"type": "string", "minLength": 1},
				"node_type":    map[string]any{"type": "string", "minLength": 1},
				"node_name":    map[string]any{"type": "string"},
				"status": map[string]any{
					"type": "string",
					"enum": []any{"started", "running", "success", "error", "skipped", "waiting"},
				},
				"started_at":   map[string]any{"type": "string", "format": "date-time"},
				"completed_at": map[string]any{"type": "string", "format": "date-time"},
				"duration_ms":  map[string]any{"type": "integer", "minimum": 0},
				"error":        map[string]any{"type": "string"},
				"tokens_used":  map[string]any{"type": "integer", "minimum": 0},
				"cost_usd":     map[string]any{"type": "number", "minimum": 0},
				"retry_count":  map[string]any{"type": "integer", "minimum": 0},
				"metadata":     map[string]any{"type": "object"},
			},
		},
	},
}

var schemaLoader = gojsonschema.NewGoLoader(eventSchema)

// validatePayload checks a raw message body against the event schema.
func validatePayload(payload []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(errs, "; "))
	}

	return nil
}
