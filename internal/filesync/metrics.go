package filesync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/diff"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxsync/internal/filesync"

// Error stages.
const (
	stageScan = "scan"
	stageSave = "save"
)

// Metrics holds synchronizer instruments.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	scanDuration metric.Float64Histogram
	scanFiles    metric.Int64Histogram
	changes      metric.Int64Counter
	errors       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider, logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.scanDuration, err = m.meter.Float64Histogram(
		"ctxsync.scan.duration_seconds",
		metric.WithDescription("Duration of a full tree scan in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create scan duration histogram", zap.Error(err))
	}

	m.scanFiles, err = m.meter.Int64Histogram(
		"ctxsync.scan.files",
		metric.WithDescription("Number of files fingerprinted per scan"),
		metric.WithUnit("{file}"),
		metric.WithExplicitBucketBoundaries(10, 100, 500, 1000, 5000, 10000, 50000, 100000),
	)
	if err != nil {
		m.logger.Warn("failed to create scan files histogram", zap.Error(err))
	}

	m.changes, err = m.meter.Int64Counter(
		"ctxsync.changes_total",
		metric.WithDescription("Changed paths reported, by kind (added, removed, modified)"),
		metric.WithUnit("{path}"),
	)
	if err != nil {
		m.logger.Warn("failed to create changes counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"ctxsync.sync.errors_total",
		metric.WithDescription("Failed change checks, by stage (scan, save)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordScan records one completed scan.
func (m *Metrics) RecordScan(ctx context.Context, duration time.Duration, files int) {
	if m.scanDuration != nil {
		m.scanDuration.Record(ctx, duration.Seconds())
	}
	if m.scanFiles != nil {
		m.scanFiles.Record(ctx, int64(files))
	}
}

// RecordChanges adds the sizes of each change list.
func (m *Metrics) RecordChanges(ctx context.Context, cs diff.ChangeSet) {
	if m.changes == nil {
		return
	}
	for kind, n := range map[string]int{
		"added":    len(cs.Added),
		"removed":  len(cs.Removed),
		"modified": len(cs.Modified),
	} {
		if n > 0 {
			m.changes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
		}
	}
}

// RecordError counts a failure at stage.
func (m *Metrics) RecordError(ctx context.Context, stage string) {
	if m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}
