package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stderr
	stderr = buf
	t.Cleanup(func() { stderr = prev })
	return buf
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.NotNil(t, logger.Underlying())
	assert.Equal(t, cfg, logger.config)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestNewLogger_WritesJSONToStderr(t *testing.T) {
	buf := captureStderr(t)

	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Level = TraceLevel
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx := WithRunID(WithRoot(context.Background(), "/src/project"), "run-1")
	logger.Info(ctx, "changes detected", zap.Int("added", 2))
	logger.Trace(ctx, "hashed file")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "changes detected", entry["msg"])
	assert.Equal(t, "/src/project", entry["sync.root"])
	assert.Equal(t, "run-1", entry["sync.run_id"])
	assert.Equal(t, "ctxsync", entry["service"])
	assert.EqualValues(t, 2, entry["added"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "trace", entry["level"])
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := WithRoot(context.Background(), "/tree")

	tests := []struct {
		name  string
		log   func(context.Context, string, ...zap.Field)
		level zapcore.Level
	}{
		{"trace", logger.Trace, TraceLevel},
		{"debug", logger.Debug, zapcore.DebugLevel},
		{"info", logger.Info, zapcore.InfoLevel},
		{"warn", logger.Warn, zapcore.WarnLevel},
		{"error", logger.Error, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed.TakeAll()
			tt.log(ctx, tt.name+" message", zap.String("key", "val"))

			logs := observed.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, tt.name+" message", logs[0].Message)
			assert.Equal(t, "val", logs[0].ContextMap()["key"])
			assert.Equal(t, "/tree", logs[0].ContextMap()["sync.root"])
		})
	}
}

func TestLogger_LevelGate(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Trace(context.Background(), "dropped")
	logger.Debug(context.Background(), "dropped")
	logger.Info(context.Background(), "kept")

	assert.Equal(t, 1, observed.Len())
	assert.False(t, logger.Enabled(TraceLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("component", "scanner")).Named("scan")
	child.Info(context.Background(), "walked")

	tl.AssertField(t, "walked", "component", "scanner")
	entries := tl.FilterMessage("walked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scan", entries[0].LoggerName)
}

func TestLogger_Nop(t *testing.T) {
	logger := NewNop()
	logger.Error(context.Background(), "nothing")
	assert.NoError(t, logger.Sync())
}

func TestIsConsoleSyncError(t *testing.T) {
	assert.True(t, isConsoleSyncError(syscall.EINVAL))
	assert.True(t, isConsoleSyncError(syscall.ENOTTY))
	assert.False(t, isConsoleSyncError(syscall.EIO))
	assert.False(t, isConsoleSyncError(assert.AnError))
}
