package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/ctxsync/internal/config"
)

func sampledObserver(levels map[zapcore.Level]LevelSamplingConfig) (*zap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Hour),
		Levels:  levels,
	})
	return zap.New(sampled), observed
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	logger, observed := sampledObserver(DefaultLevelSamplingConfig())

	for i := 0; i < 500; i++ {
		logger.Error("scan failed")
	}
	assert.Equal(t, 500, observed.FilterMessage("scan failed").Len())
}

func TestSampledCore_PerLevelBudgets(t *testing.T) {
	logger, observed := sampledObserver(DefaultLevelSamplingConfig())

	for i := 0; i < 300; i++ {
		logger.Log(TraceLevel, "trace")
		logger.Debug("debug")
		logger.Info("info")
		logger.Warn("warn")
	}

	assert.Equal(t, 1, observed.FilterMessage("trace").Len())
	assert.Equal(t, 10, observed.FilterMessage("debug").Len())
	// first 100, then every 10th of the remaining 200
	assert.Equal(t, 120, observed.FilterMessage("info").Len())
	// first 100, then every 100th of the remaining 200
	assert.Equal(t, 102, observed.FilterMessage("warn").Len())
}

func TestSampledCore_UnconfiguredLevelPassesThrough(t *testing.T) {
	logger, observed := sampledObserver(map[zapcore.Level]LevelSamplingConfig{
		zapcore.DebugLevel: {Initial: 1},
	})

	for i := 0; i < 50; i++ {
		logger.Debug("debug")
		logger.Info("info")
	}
	assert.Equal(t, 1, observed.FilterMessage("debug").Len())
	assert.Equal(t, 50, observed.FilterMessage("info").Len())
}

func TestSampledCore_Disabled(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := zap.New(newSampledCore(core, SamplingConfig{Enabled: false, Levels: DefaultLevelSamplingConfig()}))

	for i := 0; i < 20; i++ {
		logger.Log(TraceLevel, "trace")
	}
	assert.Equal(t, 20, observed.Len())
}

func TestSampledCore_WithPreservesFiltering(t *testing.T) {
	logger, observed := sampledObserver(map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel: {Initial: 2},
	})

	child := logger.With(zap.String("root", "/tree"))
	for i := 0; i < 10; i++ {
		child.Info("info")
	}
	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/tree", entries[0].ContextMap()["root"])
}

func TestNewCore_Outputs(t *testing.T) {
	captureStderr(t)

	tests := []struct {
		name     string
		output   OutputConfig
		provider bool
		wantErr  bool
	}{
		{"stderr only", OutputConfig{Stderr: true}, false, false},
		{"stderr and otel", OutputConfig{Stderr: true, OTEL: true}, true, false},
		{"otel without provider falls back to stderr", OutputConfig{Stderr: true, OTEL: true}, false, false},
		{"otel only", OutputConfig{OTEL: true}, true, false},
		{"otel only without provider", OutputConfig{OTEL: true}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Output = tt.output
			provider := noop.NewLoggerProvider()
			core, err := newCore(cfg, nil)
			if tt.provider {
				core, err = newCore(cfg, provider)
			}
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			zap.New(core).Info("bridged")
		})
	}
}

func TestEncodeLevel_Trace(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, enc.AddArray("levels", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		encodeLevel(TraceLevel, arr)
		encodeLevel(zapcore.WarnLevel, arr)
		return nil
	})))
	assert.Equal(t, []interface{}{"trace", "warn"}, enc.Fields["levels"])
}
