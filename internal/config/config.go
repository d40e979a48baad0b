package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrOutOfRange marks a setting outside its allowed range.
var ErrOutOfRange = errors.New("config value out of range")

const (
	minCollectionIntervalSeconds = 1
	maxCollectionIntervalSeconds = 3600
	minTopProcesses              = 1
	maxTopProcesses              = 50
	minWallClockJumpSeconds      = 2
	maxWallClockJumpSeconds      = 86400
	minWindowSeconds             = 60
	maxWindowSeconds             = 3600
	minRetentionDays             = 1
	maxRetentionDays             = 3650
	minCleanupIntervalHours      = 1
	maxCleanupIntervalHours      = 720

	minHighPowerThreshold = 0.1
	maxHighPowerThreshold = 50
	maxPercentThreshold   = 100
	maxRateThresholdMB    = 10000
)

type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Collection CollectionConfig `toml:"collection"`
	Analysis   AnalysisConfig   `toml:"analysis"`
	Cleanup    CleanupConfig    `toml:"cleanup"`
	API        APIConfig        `toml:"api"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type CollectionConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	TopProcesses    int `toml:"top_processes"`
	// A gap between readings longer than this means the machine was
	// suspended without a logind signal; rates are not derived across it.
	WallClockJumpThresholdSeconds int `toml:"wall_clock_jump_threshold_seconds"`
}

type AnalysisConfig struct {
	HighPowerThresholdPercentPer10Min float64 `toml:"high_power_threshold_percent_per_10min"`
	WindowSeconds                     int     `toml:"window_seconds"`
	CPUTotalPercent                   float64 `toml:"cpu_total_percent"`
	CPUProcessPercent                 float64 `toml:"cpu_process_percent"`
	DiskIOMB                          float64 `toml:"disk_io_mb"`
	NetworkMB                         float64 `toml:"network_mb"`
	MultipleProcessesCPUPercent       float64 `toml:"multiple_processes_cpu_percent"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

type APIConfig struct {
	// ListenAddr is the HTTP API address; empty disables the API.
	ListenAddr string `toml:"listen_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath: "/var/lib/power-monitor/data.db",
		},
		Collection: CollectionConfig{
			IntervalSeconds:               30,
			TopProcesses:                  5,
			WallClockJumpThresholdSeconds: 120,
		},
		Analysis: AnalysisConfig{
			HighPowerThresholdPercentPer10Min: 2.0,
			WindowSeconds:                     600,
			CPUTotalPercent:                   50,
			CPUProcessPercent:                 25,
			DiskIOMB:                          50,
			NetworkMB:                         10,
			MultipleProcessesCPUPercent:       30,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:9477",
		},
	}
}

// Interval is the sampling interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Collection.IntervalSeconds) * time.Second
}

// WallClockJump is the reading gap treated as a suspend.
func (c *Config) WallClockJump() time.Duration {
	return time.Duration(c.Collection.WallClockJumpThresholdSeconds) * time.Second
}

// Window is the analysis window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Analysis.WindowSeconds) * time.Second
}

// Retention is how long samples and events are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Cleanup.RetentionDays) * 24 * time.Hour
}

// CleanupInterval is the time between cleanup passes.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	c := sanitized.Collection
	if err := validateRange("collection.interval_seconds", c.IntervalSeconds, minCollectionIntervalSeconds, maxCollectionIntervalSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("collection.top_processes", c.TopProcesses, minTopProcesses, maxTopProcesses); err != nil {
		return nil, err
	}
	if err := validateRange("collection.wall_clock_jump_threshold_seconds", c.WallClockJumpThresholdSeconds, minWallClockJumpSeconds, maxWallClockJumpSeconds); err != nil {
		return nil, err
	}
	if c.WallClockJumpThresholdSeconds <= c.IntervalSeconds {
		return nil, fmt.Errorf("%w: collection.wall_clock_jump_threshold_seconds must exceed collection.interval_seconds (%d), got %d",
			ErrOutOfRange, c.IntervalSeconds, c.WallClockJumpThresholdSeconds)
	}

	a := sanitized.Analysis
	if err := validateFloatRange("analysis.high_power_threshold_percent_per_10min", a.HighPowerThresholdPercentPer10Min, minHighPowerThreshold, maxHighPowerThreshold); err != nil {
		return nil, err
	}
	if err := validateRange("analysis.window_seconds", a.WindowSeconds, minWindowSeconds, maxWindowSeconds); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name  string
		value float64
		max   float64
	}{
		{"analysis.cpu_total_percent", a.CPUTotalPercent, maxPercentThreshold},
		{"analysis.cpu_process_percent", a.CPUProcessPercent, maxPercentThreshold},
		{"analysis.multiple_processes_cpu_percent", a.MultipleProcessesCPUPercent, maxPercentThreshold},
		{"analysis.disk_io_mb", a.DiskIOMB, maxRateThresholdMB},
		{"analysis.network_mb", a.NetworkMB, maxRateThresholdMB},
	} {
		if f.value <= 0 || f.value > f.max {
			return nil, fmt.Errorf("%w: %s must be greater than 0 and at most %g, got %g", ErrOutOfRange, f.name, f.max, f.value)
		}
	}

	if err := validateRange("cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}

	sanitized.API.ListenAddr = strings.TrimSpace(sanitized.API.ListenAddr)
	if addr := sanitized.API.ListenAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("api.listen_addr %q: %w", addr, err)
		}
	}

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrOutOfRange, name, min, max, value)
	}

	return nil
}

func validateFloatRange(name string, value, min, max float64) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be between %g and %g, got %g", ErrOutOfRange, name, min, max, value)
	}

	return nil
}
