// internal/logging/core.go
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// instrumentationName identifies log records emitted through the OTEL bridge.
const instrumentationName = "github.com/fyrsmithlabs/ctxsync"

// stderr is swapped in tests.
var stderr io.Writer = os.Stderr

// newCore creates core with stderr and/or OTEL outputs, sampled per level.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stderr {
		writer := zapcore.Lock(zapcore.AddSync(stderr))
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), writer, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore(instrumentationName,
			otelzap.WithLoggerProvider(otelProvider),
		)
		cores = append(cores, &levelCore{Core: otelCore, enabled: cfg.Level.Enabled})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// encodeLevel names TraceLevel, which zap prints as "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// newSampledCore splits core into one sampler per configured level.
// Levels without a sampling entry, and Error and above, pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	levels := make([]zapcore.Level, 0, len(cfg.Levels))
	for level := range cfg.Levels {
		if level < zapcore.ErrorLevel {
			levels = append(levels, level)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	sampled := make(map[zapcore.Level]bool, len(levels))
	cores := make([]zapcore.Core, 0, len(levels)+1)
	for _, level := range levels {
		lc := cfg.Levels[level]
		sampled[level] = true
		only := level
		cores = append(cores, zapcore.NewSamplerWithOptions(
			&levelCore{Core: core, enabled: func(l zapcore.Level) bool { return l == only }},
			cfg.Tick.Duration(),
			lc.Initial,
			lc.Thereafter,
		))
	}
	cores = append(cores, &levelCore{Core: core, enabled: func(l zapcore.Level) bool { return !sampled[l] }})

	return zapcore.NewTee(cores...)
}

// levelCore restricts the levels an inner core accepts.
type levelCore struct {
	zapcore.Core
	enabled func(zapcore.Level) bool
}

func (c *levelCore) Enabled(lvl zapcore.Level) bool {
	return c.enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), enabled: c.enabled}
}
