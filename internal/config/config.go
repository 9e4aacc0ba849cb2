// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/streamcap/internal/logger"
)

// Config is the top-level YAML structure.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream"`
	Recording RecordingConfig `mapstructure:"recording"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
}

type StreamConfig struct {
	URL                string          `mapstructure:"url"`
	ReadTimeoutSeconds int             `mapstructure:"read_timeout_seconds"`
	Reconnect          ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	BackoffSeconds []float64 `mapstructure:"backoff_seconds"`
}

type RecordingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	OutputDir         string  `mapstructure:"output_dir"`
	SegmentSeconds    int     `mapstructure:"segment_seconds"`
	DiskFreeFloorMiB  float64 `mapstructure:"disk_free_floor_mib"`
	DiskFreeResumeMiB float64 `mapstructure:"disk_free_resume_mib"`
}

type SnapshotsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	OutputDir       string `mapstructure:"output_dir"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

type LoggingConfig struct {
	File            string `mapstructure:"file"`
	Level           string `mapstructure:"level"`
	RotateMaxMB     int    `mapstructure:"rotate_max_mb"`
	RotateBackups   int    `mapstructure:"rotate_backups"`
	WorkerOutputDir string `mapstructure:"worker_output_dir"`
}

type HealthConfig struct {
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("stream.read_timeout_seconds", 10)
	v.SetDefault("stream.reconnect.backoff_seconds", []float64{1, 2, 5, 10, 30})
	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.segment_seconds", 10800)
	v.SetDefault("recording.disk_free_floor_mib", 500)
	v.SetDefault("recording.disk_free_resume_mib", 1024)
	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.interval_seconds", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.rotate_max_mb", 10)
	v.SetDefault("logging.rotate_backups", 3)
	v.SetDefault("health.check_interval_seconds", 5)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("metrics.enabled", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the runtime depends on. It fails fast
// at load time instead of surfacing broken values mid-capture.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Stream.URL) == "" {
		return fmt.Errorf("config: stream.url is required")
	}
	if len(c.Stream.Reconnect.BackoffSeconds) == 0 {
		return fmt.Errorf("config: stream.reconnect.backoff_seconds must not be empty")
	}
	for i, s := range c.Stream.Reconnect.BackoffSeconds {
		if s <= 0 {
			return fmt.Errorf("config: stream.reconnect.backoff_seconds[%d] must be positive, got %v", i, s)
		}
	}
	if c.Recording.Enabled {
		if strings.TrimSpace(c.Recording.OutputDir) == "" {
			return fmt.Errorf("config: recording.output_dir is required")
		}
		if c.Recording.SegmentSeconds <= 0 {
			return fmt.Errorf("config: recording.segment_seconds must be positive")
		}
		if c.Recording.DiskFreeFloorMiB <= 0 {
			return fmt.Errorf("config: recording.disk_free_floor_mib must be positive")
		}
		if c.Recording.DiskFreeResumeMiB <= c.Recording.DiskFreeFloorMiB {
			return fmt.Errorf("config: recording.disk_free_resume_mib (%v) must exceed disk_free_floor_mib (%v)",
				c.Recording.DiskFreeResumeMiB, c.Recording.DiskFreeFloorMiB)
		}
	}
	if c.Snapshots.Enabled && strings.TrimSpace(c.Snapshots.OutputDir) == "" {
		return fmt.Errorf("config: snapshots.output_dir is required")
	}
	if strings.TrimSpace(c.Logging.File) == "" {
		return fmt.Errorf("config: logging.file is required")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	if c.Health.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("config: health.check_interval_seconds must be positive")
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("config: server.listen is required when the server is enabled")
	}
	return nil
}
