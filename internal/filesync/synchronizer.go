// Package filesync detects which files of a tracked tree changed since the
// last check.
//
// A Synchronizer holds a baseline fingerprint map for one root. Each call to
// CheckForChanges scans the tree, diffs it against the baseline, persists the
// scan as the new baseline and returns the change set. Baselines are shared
// across processes through a snapshot.Store keyed by the canonical root, so a
// new Synchronizer only sees changes made since the last successful check by
// any instance.
//
// Callers must serialize CheckForChanges on one Synchronizer.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/diff"
	"github.com/fyrsmithlabs/ctxsync/internal/ignore"
	"github.com/fyrsmithlabs/ctxsync/internal/scanner"
	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
	"github.com/fyrsmithlabs/ctxsync/internal/vcs"
)

// Errors for synchronizer operations.
var (
	// ErrNotInitialized is returned by CheckForChanges before Initialize succeeds.
	ErrNotInitialized = errors.New("synchronizer not initialized")

	// ErrNotFound indicates the root does not exist or is not a directory.
	ErrNotFound = scanner.ErrNotFound

	// ErrIOFailure indicates the new baseline could not be persisted.
	ErrIOFailure = snapshot.ErrIOFailure
)

// State is the lifecycle state of a Synchronizer.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Synchronizer tracks one root against its persisted baseline.
type Synchronizer struct {
	root        string
	store       snapshot.Store
	logger      *zap.Logger
	patterns    []string
	ignoreFiles []string
	workers     int
	gitMetadata bool
	now         func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	tracer         trace.Tracer

	state    State
	matcher  *ignore.Matcher
	baseline *snapshot.Snapshot
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithStore sets where baselines are persisted. Defaults to a FileStore in
// snapshot.DefaultDir.
func WithStore(store snapshot.Store) Option {
	return func(s *Synchronizer) {
		s.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIgnorePatterns adds patterns to the built-in defaults.
func WithIgnorePatterns(patterns ...string) Option {
	return func(s *Synchronizer) {
		s.patterns = append(s.patterns, patterns...)
	}
}

// WithIgnoreFiles reads gitignore-style files with these names from the
// root during Initialize and adds their patterns.
func WithIgnoreFiles(names ...string) Option {
	return func(s *Synchronizer) {
		s.ignoreFiles = append(s.ignoreFiles, names...)
	}
}

// WithWorkers bounds concurrent hashing. Values below 1 select the CPU count.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		s.workers = n
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Synchronizer) {
		s.meterProvider = mp
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Synchronizer) {
		s.tracerProvider = tp
	}
}

// WithClock sets the time source for baseline timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGitMetadata controls whether the repository HEAD is recorded with
// each baseline. Enabled by default.
func WithGitMetadata(enabled bool) Option {
	return func(s *Synchronizer) {
		s.gitMetadata = enabled
	}
}

// New creates a Synchronizer for root. Ignore patterns are compiled here, so
// an invalid pattern fails construction with ignore.ErrInvalidPattern.
func New(root string, opts ...Option) (*Synchronizer, error) {
	canonical, err := snapshot.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	s := &Synchronizer{
		root:        canonical,
		logger:      zap.NewNop(),
		gitMetadata: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.matcher, err = ignore.NewMatcher(s.patterns...); err != nil {
		return nil, err
	}

	if s.store == nil {
		fs, err := snapshot.NewFileStore("", s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating snapshot store: %w", err)
		}
		s.store = fs
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	s.metrics = newMetrics(s.meterProvider, s.logger)
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	return s, nil
}

// Root returns the canonical root path.
func (s *Synchronizer) Root() string {
	return s.root
}

// State returns the lifecycle state.
func (s *Synchronizer) State() State {
	return s.state
}

// Baseline returns a copy of the in-memory baseline, or nil before
// Initialize.
func (s *Synchronizer) Baseline() snapshot.Fingerprints {
	if s.baseline == nil {
		return nil
	}
	return s.baseline.Files.Clone()
}

// Patterns returns the effective ignore patterns, defaults first.
func (s *Synchronizer) Patterns() []string {
	return s.matcher.Patterns()
}

// Initialize loads the persisted baseline. It does not scan the tree.
// Calling it again re-reads the persisted baseline and ignore files.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	prev := s.state
	s.state = StateInitializing

	if err := s.initialize(ctx); err != nil {
		s.state = prev
		return err
	}

	s.state = StateReady
	return nil
}

func (s *Synchronizer) initialize(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, s.root)
		}
		return fmt.Errorf("stat %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotFound, s.root)
	}

	matcher := s.matcher
	if len(s.ignoreFiles) > 0 {
		if matcher, err = s.matcherWithIgnoreFiles(); err != nil {
			return err
		}
	}

	baseline, err := s.store.Load(ctx, s.root)
	if err != nil {
		return fmt.Errorf("loading baseline: %w", err)
	}

	s.matcher = matcher
	s.baseline = baseline
	s.logger.Debug("baseline loaded",
		zap.String("root", s.root),
		zap.Int("files", len(baseline.Files)),
		zap.Time("created_at", baseline.CreatedAt))
	return nil
}

// matcherWithIgnoreFiles rebuilds the matcher from the configured patterns
// plus the root's ignore files. Lines that do not compile are skipped.
func (s *Synchronizer) matcherWithIgnoreFiles() (*ignore.Matcher, error) {
	lines, err := ignore.NewParser(s.ignoreFiles).ParseRoot(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}

	patterns := append([]string(nil), s.patterns...)
	for _, line := range lines {
		if _, err := ignore.Compile(line); err != nil {
			s.logger.Warn("skipping ignore file pattern",
				zap.String("root", s.root),
				zap.String("pattern", line),
				zap.Error(err))
			continue
		}
		patterns = append(patterns, line)
	}
	return ignore.NewMatcher(patterns...)
}

// CheckForChanges scans the tree, persists it as the new baseline and returns
// what changed since the previous baseline. On error both the in-memory and
// persisted baselines keep their previous values.
func (s *Synchronizer) CheckForChanges(ctx context.Context) (diff.ChangeSet, error) {
	if s.state != StateReady {
		return diff.ChangeSet{}, ErrNotInitialized
	}

	ctx, span := s.tracer.Start(ctx, "Synchronizer.CheckForChanges")
	defer span.End()
	span.SetAttributes(attribute.String("root", s.root))

	start := s.now()
	res, err := scanner.New(
		scanner.WithLogger(s.logger),
		scanner.WithWorkers(s.workers),
	).Scan(ctx, s.root, s.matcher)
	if err != nil {
		s.metrics.RecordError(ctx, stageScan)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return diff.ChangeSet{}, fmt.Errorf("scanning %s: %w", s.root, err)
	}
	s.metrics.RecordScan(ctx, s.now().Sub(start), len(res.Files))

	cs := diff.Diff(s.baseline.Files, res.Files)

	next := &snapshot.Snapshot{
		Root:      s.root,
		Files:     res.Files,
		CreatedAt: s.now().UTC(),
		Git:       s.describeHead(),
	}
	if err := s.store.Save(ctx, next); err != nil {
		if !errors.Is(err, ErrIOFailure) {
			err = fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		s.metrics.RecordError(ctx, stageSave)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return diff.ChangeSet{}, fmt.Errorf("saving baseline: %w", err)
	}
	s.baseline = next
	s.metrics.RecordChanges(ctx, cs)

	span.SetAttributes(
		attribute.Int("files", len(res.Files)),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("added", len(cs.Added)),
		attribute.Int("removed", len(cs.Removed)),
		attribute.Int("modified", len(cs.Modified)),
	)
	span.SetStatus(codes.Ok, "success")

	if cs.Empty() {
		s.logger.Debug("no changes", zap.String("root", s.root), zap.Int("files", len(res.Files)))
	} else {
		s.logger.Info("changes detected",
			zap.String("root", s.root),
			zap.Int("added", len(cs.Added)),
			zap.Int("removed", len(cs.Removed)),
			zap.Int("modified", len(cs.Modified)))
	}
	return cs, nil
}

// describeHead returns the repository HEAD for the root, or nil.
func (s *Synchronizer) describeHead() *vcs.Head {
	if !s.gitMetadata {
		return nil
	}
	head, err := vcs.Describe(s.root)
	if err != nil {
		if !errors.Is(err, vcs.ErrNotRepository) {
			s.logger.Debug("reading git head", zap.String("root", s.root), zap.Error(err))
		}
		return nil
	}
	return head
}

// DeleteSnapshot removes the persisted baseline for root. Live Synchronizers
// bound to root keep their in-memory baseline until Initialize is called
// again.
func DeleteSnapshot(ctx context.Context, store snapshot.Store, root string) error {
	if store == nil {
		return fmt.Errorf("snapshot store is required")
	}
	if err := store.Delete(ctx, root); err != nil {
		return fmt.Errorf("deleting baseline for %s: %w", root, err)
	}
	return nil
}
