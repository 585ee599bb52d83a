// Package models defines the node execution log records stored by nodelog.
package models

import (
	"time"
)

type NodeLogStatus string

const (
	NodeLogStatusStarted NodeLogStatus = "started"
	NodeLogStatusRunning NodeLogStatus = "running"
	NodeLogStatusSuccess NodeLogStatus = "success"
	NodeLogStatusError   NodeLogStatus = "error"
	NodeLogStatusSkipped NodeLogStatus = "skipped"
	NodeLogStatusWaiting NodeLogStatus = "waiting"
)

// IsValid reports whether s is one of the known node log statuses.
func (s NodeLogStatus) IsValid() bool {
	switch s {
	case NodeLogStatusStarted, NodeLogStatusRunning, NodeLogStatusSuccess,
		NodeLogStatusError, NodeLogStatusSkipped, NodeLogStatusWaiting:
		return true
	default:
		return false
	}
}

// DefaultWorkspaceID namespaces storage keys when the caller gives no workspace.
const DefaultWorkspaceID = "default"

// NodeLogData is the log of one node execution step as produced by the workflow engine.
type NodeLogData struct {
	ExecutionID string        `json:"execution_id"           validate:"required"`
	WorkflowID  string        `json:"workflow_id"            validate:"required"`
	NodeID      string        `json:"node_id"                validate:"required"`
	NodeType    string        `json:"node_type"              validate:"required"`
	NodeName    string        `json:"node_name,omitempty"`
	Status      NodeLogStatus `json:"status"                 validate:"required,oneof=started running success error skipped waiting"`
	StartedAt   time.Time     `json:"started_at"             validate:"required"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  *int64        `json:"duration_ms,omitempty"`

	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	TokensUsed *int           `json:"tokens_used,omitempty"`
	CostUSD    *float64       `json:"cost_usd,omitempty"`
	RetryCount int            `json:"retry_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// LogRecord is the persisted form of a NodeLogData. Input and Output are either
// inline values or pointers to offloaded blobs.
type LogRecord struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	NodeID      string        `json:"node_id"`
	NodeType    string        `json:"node_type"`
	NodeName    string        `json:"node_name,omitempty"`
	Status      NodeLogStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  *int64        `json:"duration_ms,omitempty"`

	Input  Payload `json:"input"`
	Output Payload `json:"output"`
	Error  string  `json:"error,omitempty"`

	TokensUsed *int           `json:"tokens_used,omitempty"`
	CostUSD    *float64       `json:"cost_usd,omitempty"`
	RetryCount int            `json:"retry_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewLogRecord copies every non-payload field of data into a record with
// inline input and output.
func NewLogRecord(id, workspaceID string, data *NodeLogData) *LogRecord {
	return &LogRecord{
		ID:          id,
		WorkspaceID: workspaceID,
		ExecutionID: data.ExecutionID,
		WorkflowID:  data.WorkflowID,
		NodeID:      data.NodeID,
		NodeType:    data.NodeType,
		NodeName:    data.NodeName,
		Status:      data.Status,
		StartedAt:   data.StartedAt,
		CompletedAt: data.CompletedAt,
		DurationMs:  data.DurationMs,
		Input:       Inline(data.Input),
		Output:      Inline(data.Output),
		Error:       data.Error,
		TokensUsed:  data.TokensUsed,
		CostUSD:     data.CostUSD,
		RetryCount:  data.RetryCount,
		Metadata:    data.Metadata,
	}
}

// NodeLogData converts the record back to engine form. A payload that is still
// offloaded is returned as its StoragePointer value.
func (r *LogRecord) NodeLogData() *NodeLogData {
	return &NodeLogData{
		ExecutionID: r.ExecutionID,
		WorkflowID:  r.WorkflowID,
		NodeID:      r.NodeID,
		NodeType:    r.NodeType,
		NodeName:    r.NodeName,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.DurationMs,
		Input:       r.Input.Any(),
		Output:      r.Output.Any(),
		Error:       r.Error,
		TokensUsed:  r.TokensUsed,
		CostUSD:     r.CostUSD,
		RetryCount:  r.RetryCount,
		Metadata:    r.Metadata,
	}
}

// Pointers returns the storage pointers referenced by the record.
func (r *LogRecord) Pointers() []StoragePointer {
	var pointers []StoragePointer

	if p, ok := r.Input.Pointer(); ok {
		pointers = append(pointers, p)
	}

	if p, ok := r.Output.Pointer(); ok {
		pointers = append(pointers, p)
	}

	return pointers
}
