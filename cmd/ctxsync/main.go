// Package main implements the ctxsync CLI, which reports and applies file
// changes in tracked trees.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/config"
	"github.com/fyrsmithlabs/ctxsync/internal/filesync"
	"github.com/fyrsmithlabs/ctxsync/internal/logging"
	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
	"github.com/fyrsmithlabs/ctxsync/internal/telemetry"
)

var (
	configPath     string
	cacheDir       string
	ignorePatterns []string
	workers        int
	logLevel       string
	jsonOutput     bool
	version        = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ctxsync",
	Short: "Detect file changes in tracked trees",
	Long: `ctxsync keeps a content fingerprint baseline per directory and reports
which files were added, removed or modified since the last check.

Baselines are stored under ~/.config/contextd/snapshots by default and are
shared by every process tracking the same directory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ~/.config/contextd/ctxsync.yaml)")
	flags.StringVar(&cacheDir, "cache-dir", "", "baseline directory (overrides sync.cache_dir)")
	flags.StringSliceVar(&ignorePatterns, "ignore", nil, "additional ignore patterns")
	flags.IntVar(&workers, "workers", 0, "concurrent hashing workers (overrides sync.workers)")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// session bundles what every command needs.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	logger *logging.Logger
	store  *snapshot.FileStore
	tel    *telemetry.Telemetry
}

// newSession loads config, applies flag overrides and builds the logger,
// telemetry and baseline store.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("cache-dir") {
		if cfg.Sync.CacheDir, err = config.ExpandPath(cacheDir); err != nil {
			return nil, err
		}
	}
	if flags.Changed("workers") {
		cfg.Sync.Workers = workers
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	cfg.Sync.IgnorePatterns = append(cfg.Sync.IgnorePatterns, ignorePatterns...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := snapshot.NewFileStore(cfg.Sync.CacheDir, logger.Underlying())
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry,
		telemetry.WithLogger(logger.Underlying()),
		telemetry.WithVersion(version))
	if err != nil {
		return nil, err
	}

	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithRunID(ctx, uuid.NewString())

	return &session{ctx: ctx, cfg: cfg, logger: logger, store: store, tel: tel}, nil
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	cfg := logging.NewDefaultConfig()
	cfg.Level = level
	cfg.Format = lc.Format
	cfg.Sampling.Tick = lc.SamplingTick
	return logging.NewLogger(cfg, nil)
}

// synchronizer builds an initialized Synchronizer for root.
func (s *session) synchronizer(root string) (*filesync.Synchronizer, error) {
	syncer, err := filesync.New(root,
		filesync.WithStore(s.store),
		filesync.WithLogger(s.logger.Underlying()),
		filesync.WithIgnorePatterns(s.cfg.Sync.IgnorePatterns...),
		filesync.WithIgnoreFiles(s.cfg.Sync.IgnoreFiles...),
		filesync.WithWorkers(s.cfg.Sync.Workers),
		filesync.WithGitMetadata(s.cfg.Sync.GitMetadata),
		filesync.WithMeterProvider(s.tel.MeterProvider()),
		filesync.WithTracerProvider(s.tel.TracerProvider()),
	)
	if err != nil {
		return nil, err
	}
	s.ctx = logging.WithRoot(s.ctx, syncer.Root())
	if err := syncer.Initialize(s.ctx); err != nil {
		return nil, err
	}
	return syncer, nil
}

func (s *session) close() {
	if err := s.tel.Shutdown(context.Background()); err != nil {
		s.logger.Warn(s.ctx, "telemetry shutdown failed", zap.Error(err))
	}
	if err := s.logger.Sync(); err != nil {
		s.logger.Underlying().Debug("log sync failed", zap.Error(err))
	}
}

// rootArg returns the tracked root, defaulting to the working directory.
func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
