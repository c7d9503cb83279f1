package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/boxboard/boxsync/errors"
)

func TestNewLogger_JSONCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json"}, &buf)

	logger.WithComponent(Component("orchestrator")).WithCollection("users").
		Info("reconciled", "conflicts", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reconciled", line["msg"])
	assert.Equal(t, "orchestrator", line["component"])
	assert.Equal(t, "users", line["collection"])
	assert.EqualValues(t, 2, line["conflicts"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogError_SyncErrorIsGrouped(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json"}, &buf)

	err := syncErrors.NewIOError(syncErrors.OpExport, "notes", errors.New("status 503"))
	logger.LogError(context.Background(), err, "export failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["sync_error"].(map[string]any)
	require.True(t, ok, "sync_error should be a group")
	assert.Equal(t, "IO_FAILURE", group["code"])
	assert.Equal(t, "notes", group["collection"])
	assert.Contains(t, line, "caller")
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "text"}, &buf)

	err := logger.LogOperation(context.Background(), Operation("run"), Component("cli"), func() error {
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "operation completed")

	buf.Reset()
	boom := errors.New("boom")
	err = logger.LogOperation(context.Background(), Operation("run"), Component("cli"), func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "operation failed")
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_ADD_SOURCE", "")

	cfg := GetConfigFromEnv(DefaultConfig)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.True(t, cfg.AddSource)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "TRACE", LevelTrace.String())
}
