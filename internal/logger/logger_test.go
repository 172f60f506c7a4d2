package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewWithOptionsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(&buf, slog.LevelInfo, "json")

	log.Debug("hidden")
	log.Info("migrated", slog.String("instance_id", "i-1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "migrated", entry["msg"])
	assert.Equal(t, "i-1", entry["instance_id"])
}

func TestNewWithOptionsText(t *testing.T) {
	var buf bytes.Buffer
	NewWithOptions(&buf, slog.LevelInfo, "text").Warn("settling")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "msg=settling")
}
