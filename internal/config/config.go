package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chartkit/chartsync/internal/events"
)

// Config holds all application configuration.
type Config struct {
	Remote    RemoteConfig     `json:"remote" mapstructure:"remote"`
	Storage   StorageConfig    `json:"storage" mapstructure:"storage"`
	Sync      SyncConfig       `json:"sync" mapstructure:"sync"`
	Scheduler SchedulerConfig  `json:"scheduler" mapstructure:"scheduler"`
	Backup    BackupConfig     `json:"backup" mapstructure:"backup"`
	Log       events.LogConfig `json:"log" mapstructure:"log"`
}

// RemoteConfig for replicated-store communication.
type RemoteConfig struct {
	BaseURL   string        `json:"base_url" mapstructure:"base_url"`
	Token     string        `json:"token" mapstructure:"token"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent string        `json:"user_agent" mapstructure:"user_agent"`
}

// StorageConfig for local durable storage.
type StorageConfig struct {
	DataDir   string `json:"data_dir" mapstructure:"data_dir"`
	ChartsDir string `json:"charts_dir" mapstructure:"charts_dir"`
	BackupDir string `json:"backup_dir" mapstructure:"backup_dir"`

	// EngineDB holds queue, sync state, conflicts and activity patterns.
	EngineDB string `json:"engine_db" mapstructure:"engine_db"`

	// DeviceContextFile is where the platform telemetry bridge drops its
	// latest device snapshot.
	DeviceContextFile string `json:"device_context_file" mapstructure:"device_context_file"`
}

// SyncConfig for coordinator behavior.
type SyncConfig struct {
	BatchSize        int             `json:"batch_size" mapstructure:"batch_size"`
	RetryDelays      []time.Duration `json:"retry_delays" mapstructure:"retry_delays"`
	MaxAttempts      int             `json:"max_attempts" mapstructure:"max_attempts"`
	MetadataTTL      time.Duration   `json:"metadata_ttl" mapstructure:"metadata_ttl"`
	BackgroundBudget time.Duration   `json:"background_budget" mapstructure:"background_budget"`

	CellularAllowed bool   `json:"cellular_allowed" mapstructure:"cellular_allowed"`
	Scope           string `json:"scope" mapstructure:"scope"` // all, subset
}

// SchedulerConfig for the timing decision engine.
type SchedulerConfig struct {
	UserID string `json:"user_id" mapstructure:"user_id"`

	// EvaluateEvery is the daemon's cron cadence for sync decisions.
	EvaluateEvery string `json:"evaluate_every" mapstructure:"evaluate_every"`
}

// BackupConfig for local snapshots.
type BackupConfig struct {
	AutoBackup bool `json:"auto_backup" mapstructure:"auto_backup"`
	Keep       int  `json:"keep" mapstructure:"keep"`

	// Schedule is a cron expression used by the daemon when auto backup
	// is enabled.
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".chartsync"

	return &Config{
		Remote: RemoteConfig{
			BaseURL:   "https://sync.chartkit.dev",
			Timeout:   30 * time.Second,
			UserAgent: "chartsync",
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			ChartsDir:         filepath.Join(dataDir, "charts"),
			BackupDir:         filepath.Join(dataDir, "backups"),
			EngineDB:          filepath.Join(dataDir, "engine.db"),
			DeviceContextFile: filepath.Join(dataDir, "device.json"),
		},
		Sync: SyncConfig{
			BatchSize:        50,
			RetryDelays:      []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
			MaxAttempts:      3,
			MetadataTTL:      5 * time.Minute,
			BackgroundBudget: 25 * time.Second,
			CellularAllowed:  false,
			Scope:            "all",
		},
		Scheduler: SchedulerConfig{
			UserID:        "default",
			EvaluateEvery: "@every 15m",
		},
		Backup: BackupConfig{
			AutoBackup: true,
			Keep:       5,
			Schedule:   "@daily",
		},
		Log: events.LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if c.Remote.Timeout <= 0 {
		return errors.New("remote.timeout must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size must be positive")
	}
	if len(c.Sync.RetryDelays) == 0 {
		return errors.New("sync.retry_delays must not be empty")
	}
	if c.Sync.MaxAttempts <= 0 {
		return errors.New("sync.max_attempts must be positive")
	}
	if c.Sync.Scope != "all" && c.Sync.Scope != "subset" {
		return fmt.Errorf("invalid sync.scope: %s", c.Sync.Scope)
	}
	if c.Backup.Keep <= 0 {
		return errors.New("backup.keep must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.ChartsDir,
		c.Storage.BackupDir,
		filepath.Dir(c.Storage.EngineDB),
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
