package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_ZeroValueIsEmptyInline(t *testing.T) {
	var p Payload

	assert.True(t, p.IsEmpty())
	assert.False(t, p.IsOffloaded())
	assert.Nil(t, p.Value())

	_, ok := p.Pointer()
	assert.False(t, ok)
}

func TestPayload_OffloadedIsNotAmbiguousWithUserData(t *testing.T) {
	// user data shaped exactly like a pointer stays inline
	userData := map[string]any{
		"backend":      "s3",
		"key":          "some/key.json",
		"size":         float64(10),
		"offloaded_at": "2024-01-01T00:00:00Z",
	}

	encoded, err := json.Marshal(Inline(userData))
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.False(t, decoded.IsOffloaded())
	assert.Equal(t, userData, decoded.Value())
}

func TestPayload_OffloadedEnvelope(t *testing.T) {
	pointer := StoragePointer{
		Backend:     StorageBackendLocal,
		Key:         "execution-logs/default/exec-1/node_1_output.json",
		Size:        51200,
		OffloadedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	encoded, err := json.Marshal(Offloaded(pointer))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"kind":"offloaded"`)

	var decoded Payload
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	got, ok := decoded.Pointer()
	require.True(t, ok)
	assert.Equal(t, pointer, got)
	assert.Nil(t, decoded.Value())
	assert.Equal(t, pointer, decoded.Any())
}

func TestPayload_UnmarshalRejectsUnknownKind(t *testing.T) {
	var p Payload

	err := json.Unmarshal([]byte(`{"kind":"elsewhere"}`), &p)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"kind":"offloaded"}`), &p)
	assert.Error(t, err)
}

func TestPayload_NullDecodesToEmpty(t *testing.T) {
	p := Inline("stale")

	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.True(t, p.IsEmpty())
}

func TestNodeLogStatus_IsValid(t *testing.T) {
	for _, s := range []NodeLogStatus{"started", "running", "success", "error", "skipped", "waiting"} {
		assert.True(t, s.IsValid(), s)
	}

	assert.False(t, NodeLogStatus("done").IsValid())
}

func TestLogRecord_Conversions(t *testing.T) {
	data := &NodeLogData{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		NodeID:      "node-1",
		NodeType:    "http_request",
		Status:      NodeLogStatusSuccess,
		StartedAt:   time.Now().UTC(),
		Input:       map[string]any{"url": "https://example.com"},
		RetryCount:  2,
	}

	record := NewLogRecord("log-1", "ws-1", data)
	assert.Equal(t, "log-1", record.ID)
	assert.Equal(t, "ws-1", record.WorkspaceID)
	assert.Equal(t, data.Input, record.Input.Value())
	assert.True(t, record.Output.IsEmpty())
	assert.Empty(t, record.Pointers())

	pointer := StoragePointer{Backend: StorageBackendS3, Key: "k", Size: 1}
	record.Output = Offloaded(pointer)

	assert.Equal(t, []StoragePointer{pointer}, record.Pointers())

	back := record.NodeLogData()
	assert.Equal(t, data.Input, back.Input)
	assert.Equal(t, pointer, back.Output)
	assert.Equal(t, 2, back.RetryCount)
}
