package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerManager_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{
		Level:         "info",
		Format:        "json",
		ContextFields: map[string]string{"service": "pipeline"},
	}, &buf)

	lm.GetComponentLogger("aggregator").Info("fetched", "rows", 49)
	lm.GetLogger().Debug("hidden")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "aggregator", entries[0]["component"])
	assert.Equal(t, "pipeline", entries[0]["service"])
	assert.EqualValues(t, 49, entries[0]["rows"])
}

func TestLoggerManager_ComponentCache(t *testing.T) {
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info"}, &bytes.Buffer{})
	assert.Same(t, lm.GetComponentLogger("source"), lm.GetComponentLogger("source"))
}

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := WithSymbol(context.Background(), "BTCUSD")
	ctx = WithInterval(ctx, "hour")
	ctx = WithSource(ctx, "file")
	ctx = WithNewTrace(ctx)

	lm.WithContext(ctx).Info("validated")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSD", entries[0]["symbol"])
	assert.Equal(t, "hour", entries[0]["interval"])
	assert.Equal(t, "file", entries[0]["source_kind"])
	assert.NotEmpty(t, entries[0]["trace_id"])
	assert.Equal(t, "BTCUSD", GetSymbol(ctx))
	assert.Equal(t, entries[0]["trace_id"], GetTraceID(ctx))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "debug"}, &buf).GetLogger()

	require.NoError(t, TimedOperation(context.Background(), l, "derive", func() error { return nil }))
	err := TimedOperation(context.Background(), l, "reconcile", func() error { return errors.New("boom") })
	require.Error(t, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "operation completed", entries[0]["msg"])
	assert.Equal(t, "operation failed", entries[1]["msg"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pipeline.log")
	lm, err := NewLoggerManager(config.LoggingConfig{Level: "info", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	lm.GetLogger().Info("hello")
	require.NoError(t, lm.Close())
	assert.FileExists(t, path)

	_, err = NewLoggerManager(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
