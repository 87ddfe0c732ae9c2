// Package config provides configuration loading for ctxsync.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds ctxsync configuration.
type Config struct {
	Sync      SyncConfig      `koanf:"sync"`
	Logging   LoggingConfig   `koanf:"logging"`
	Index     IndexConfig     `koanf:"index"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// SyncConfig configures change detection.
type SyncConfig struct {
	// CacheDir holds one persisted baseline per tracked root.
	CacheDir       string   `koanf:"cache_dir"`
	IgnorePatterns []string `koanf:"ignore_patterns"`
	IgnoreFiles    []string `koanf:"ignore_files"`
	// Workers bounds concurrent hashing; 0 selects the CPU count.
	Workers     int  `koanf:"workers"`
	GitMetadata bool `koanf:"git_metadata"`
}

// LoggingConfig is the user-facing subset of logging settings.
type LoggingConfig struct {
	Level        string   `koanf:"level"`
	Format       string   `koanf:"format"`
	SamplingTick Duration `koanf:"sampling_tick"`
}

// IndexConfig configures the chromem-backed file index.
type IndexConfig struct {
	Path        string `koanf:"path"`
	Collection  string `koanf:"collection"`
	OllamaURL   string `koanf:"ollama_url"`
	Model       string `koanf:"model"`
	MaxFileSize int64  `koanf:"max_file_size"`
}

// TelemetryConfig configures OTLP export of scan metrics and spans.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default values.
const (
	DefaultCacheDir    = "~/.config/contextd/snapshots"
	DefaultIndexPath   = "~/.config/contextd/vectorstore"
	DefaultCollection  = "ctxsync_files"
	DefaultOllamaURL   = "http://localhost:11434/api"
	DefaultModel       = "nomic-embed-text"
	DefaultMaxFileSize = 1024 * 1024 // 1MB
	maxMaxFileSize     = 10 * 1024 * 1024
)

// DefaultIgnoreFiles are read from the root when no ignore files are configured.
var DefaultIgnoreFiles = []string{".gitignore", ".contextdignore"}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			CacheDir:    DefaultCacheDir,
			GitMetadata: true,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			SamplingTick: Duration(time.Second),
		},
		Index: IndexConfig{
			Path:        DefaultIndexPath,
			Collection:  DefaultCollection,
			OllamaURL:   DefaultOllamaURL,
			Model:       DefaultModel,
			MaxFileSize: DefaultMaxFileSize,
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "ctxsync",
			SampleRate:      1.0,
			ExportInterval:  Duration(15 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

var validLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Sync.CacheDir == "" {
		return fmt.Errorf("sync.cache_dir is required")
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("sync.workers must be >= 0, got %d", c.Sync.Workers)
	}
	for _, p := range c.Sync.IgnorePatterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("sync.ignore_patterns contains an empty pattern")
		}
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Logging.SamplingTick.Duration() <= 0 {
		return fmt.Errorf("logging.sampling_tick must be > 0")
	}

	if c.Index.Path == "" {
		return fmt.Errorf("index.path is required")
	}
	if c.Index.Collection == "" {
		return fmt.Errorf("index.collection is required")
	}
	if c.Index.Model == "" {
		return fmt.Errorf("index.model is required")
	}
	if c.Index.MaxFileSize <= 0 || c.Index.MaxFileSize > maxMaxFileSize {
		return fmt.Errorf("index.max_file_size must be in (0, %d], got %d", maxMaxFileSize, c.Index.MaxFileSize)
	}
	return c.Telemetry.Validate()
}

// Validate checks the telemetry section. A disabled section is always valid.
func (t *TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if t.Protocol != "grpc" && t.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", t.Protocol)
	}
	if t.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}
	// Plaintext export is only allowed to a collector on this host.
	if t.Insecure && !IsLocalEndpoint(t.Endpoint) {
		return fmt.Errorf("telemetry.insecure is only allowed for local endpoints, got %q", t.Endpoint)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", t.SampleRate)
	}
	if t.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("telemetry.export_interval must be > 0")
	}
	if t.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("telemetry.shutdown_timeout must be > 0")
	}
	return nil
}

// IsLocalEndpoint reports whether a host[:port] endpoint, optionally with
// an http(s) scheme, points at the loopback interface.
func IsLocalEndpoint(endpoint string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
