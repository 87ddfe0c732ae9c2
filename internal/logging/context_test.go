package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_OTELTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithSyncer(exporter),
	)
	ctx, span := provider.Tracer("test").Start(context.Background(), "scan")
	defer span.End()

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"].String)
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"].String)
	assert.Contains(t, fields, "trace_sampled")
}

func TestContextFields_UnsampledSpan(t *testing.T) {
	provider := trace.NewTracerProvider(trace.WithSampler(trace.NeverSample()))
	ctx, span := provider.Tracer("test").Start(context.Background(), "scan")
	defer span.End()

	fields := fieldMap(ContextFields(ctx))
	assert.Contains(t, fields, "trace_id")
	assert.NotContains(t, fields, "trace_sampled")
}

func TestContextFields_RootAndRunID(t *testing.T) {
	ctx := WithRoot(context.Background(), "/home/dev/project")
	ctx = WithRunID(ctx, "8c1f2e9a-0b1d-4a7e-9a52-0f6c1f4b2d11")

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "/home/dev/project", fields["sync.root"].String)
	assert.Equal(t, "8c1f2e9a-0b1d-4a7e-9a52-0f6c1f4b2d11", fields["sync.run_id"].String)
}

func TestWithRoot_Panics(t *testing.T) {
	assert.Panics(t, func() { WithRoot(context.Background(), "") })
	assert.Panics(t, func() { WithRoot(context.Background(), "bad\xff") })
}

func TestWithRunID_Validation(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantPanic bool
	}{
		{"uuid", "5f0c6f1e-3b1a-4c55-8a0e-6a7d0c7b9e21", false},
		{"underscore", "run_1", false},
		{"empty", "", true},
		{"space", "run 1", true},
		{"slash", "run/1", true},
		{"too long", strings.Repeat("a", maxIDLen+1), true},
		{"invalid utf8", "run\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := func() { WithRunID(context.Background(), tt.id) }
			if tt.wantPanic {
				assert.Panics(t, fn)
			} else {
				assert.NotPanics(t, fn)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tl.Warn(ctx, "snapshot corrupted, starting empty", zap.String("path", "/x.json"))

	tl.AssertLogged(t, zap.WarnLevel, "snapshot corrupted")
	tl.AssertNotLogged(t, zap.ErrorLevel, "snapshot corrupted")
	tl.AssertField(t, "snapshot corrupted, starting empty", "path", "/x.json")
	tl.AssertTraceCorrelation(t, "snapshot corrupted, starting empty")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestTestLogger_RunCorrelation(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(WithRoot(context.Background(), "/src/project"), "run-1")

	tl.Info(ctx, "changes detected", zap.Int("added", 2))
	tl.AssertRunCorrelation(t, "changes detected")
	tl.AssertField(t, "changes detected", "sync.run_id", "run-1")
	tl.AssertField(t, "changes detected", "added", int64(2))
}
