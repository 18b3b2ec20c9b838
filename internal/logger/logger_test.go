package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSetsGlobalLevel(t *testing.T) {
	Init("debug", "json")
	assert.True(t, L.Enabled(context.Background(), slog.LevelDebug))

	Init("warn", "text")
	assert.False(t, L.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, L.Enabled(context.Background(), slog.LevelWarn))
}

func TestNewJSONWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "JSON")
	l.Info("saved", slog.String("file", "1.mp3"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "saved", rec["msg"])
	assert.Equal(t, "1.mp3", rec["file"])
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "json")

	ctx := WithRequestID(context.Background(), base, "req-42")
	FromContext(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-42", rec["request_id"])
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	Init("info", "text")
	assert.Same(t, L, FromContext(context.Background()))

	custom := L.With("k", "v")
	ctx := WithContext(context.Background(), custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.input), tt.input)
	}
}
