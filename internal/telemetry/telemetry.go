// Package telemetry exports ctxsync metrics and spans over OTLP.
//
// The synchronizer records against whatever MeterProvider and
// TracerProvider it is handed. When telemetry is disabled the global
// providers are returned, which are no-ops unless the embedding program
// installed its own. Exporter setup failures never fail the command: the
// instance is marked degraded and the affected signal falls back to the
// global provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/config"
)

// Telemetry owns the SDK providers for one process.
type Telemetry struct {
	cfg     config.TelemetryConfig
	version string
	logger  *zap.Logger

	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// Option configures a Telemetry.
type Option func(*Telemetry)

// WithLogger sets the logger used to report degraded exporters.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Telemetry) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithVersion sets the service.version resource attribute.
func WithVersion(version string) Option {
	return func(t *Telemetry) {
		t.version = version
	}
}

// WithSpanExporter replaces the OTLP span exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(t *Telemetry) {
		t.spanExporter = exp
	}
}

// WithMetricReader replaces the periodic OTLP metric reader.
func WithMetricReader(reader sdkmetric.Reader) Option {
	return func(t *Telemetry) {
		t.metricReader = reader
	}
}

// New validates cfg and, when enabled, builds the SDK providers.
func New(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{
		cfg:     cfg,
		version: "dev",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg.ServiceName, t.version)
	if err != nil {
		t.setDegraded("resource", err)
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, res, t.spanExporter)
	if err != nil {
		t.setDegraded("tracer provider", err)
	} else {
		t.tracerProvider = tp
	}

	mp, err := newMeterProvider(ctx, cfg, res, t.metricReader)
	if err != nil {
		t.setDegraded("meter provider", err)
	} else {
		t.meterProvider = mp
	}

	t.logger.Debug("telemetry enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Bool("degraded", t.degraded.Load()))

	return t, nil
}

// TracerProvider returns the SDK tracer provider, or the global one when
// tracing is not configured.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// MeterProvider returns the SDK meter provider, or the global one when
// metrics are not configured.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return t.meterProvider
}

// Enabled reports whether telemetry was requested by configuration.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.cfg.Enabled
}

// Degraded reports whether any provider failed to start.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded.Load()
}

// ForceFlush exports everything buffered so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) setDegraded(component string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry degraded",
		zap.String("component", component),
		zap.Error(err))
}
