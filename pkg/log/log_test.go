package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/nodelog/pkg/log"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, log.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, log.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, log.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("verbose"))
}

func TestNew_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := log.New(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "log_id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "abc", entry["log_id"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer

	log.New(&buf, "debug", "text").Debug("hello", "module", "logstore")
	assert.Contains(t, buf.String(), "msg=hello module=logstore")
}
