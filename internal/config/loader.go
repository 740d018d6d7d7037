package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file (optional), environment
// variables with the CHARTSYNC_ prefix, and built-in defaults, in that
// order of increasing precedence for env over file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("remote.base_url", defaults.Remote.BaseURL)
	v.SetDefault("remote.timeout", defaults.Remote.Timeout)
	// Token has no default but must be registered for env resolution.
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user_agent", defaults.Remote.UserAgent)
	v.SetDefault("storage.data_dir", defaults.Storage.DataDir)
	v.SetDefault("sync.batch_size", defaults.Sync.BatchSize)
	v.SetDefault("sync.retry_delays", defaults.Sync.RetryDelays)
	v.SetDefault("sync.max_attempts", defaults.Sync.MaxAttempts)
	v.SetDefault("sync.metadata_ttl", defaults.Sync.MetadataTTL)
	v.SetDefault("sync.background_budget", defaults.Sync.BackgroundBudget)
	v.SetDefault("sync.cellular_allowed", defaults.Sync.CellularAllowed)
	v.SetDefault("sync.scope", defaults.Sync.Scope)
	v.SetDefault("scheduler.user_id", defaults.Scheduler.UserID)
	v.SetDefault("scheduler.evaluate_every", defaults.Scheduler.EvaluateEvery)
	v.SetDefault("backup.auto_backup", defaults.Backup.AutoBackup)
	v.SetDefault("backup.keep", defaults.Backup.Keep)
	v.SetDefault("backup.schedule", defaults.Backup.Schedule)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)

	v.SetEnvPrefix("CHARTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("chartsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/chartsync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
			// No file is fine; defaults and env apply.
		}
	}

	cfg := &Config{}
	// Viper's default decode hooks cover "5m"-style duration strings.
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Derive dependent paths when only the data dir was overridden.
	if cfg.Storage.ChartsDir == "" {
		cfg.Storage.ChartsDir = filepath.Join(cfg.Storage.DataDir, "charts")
	}
	if cfg.Storage.BackupDir == "" {
		cfg.Storage.BackupDir = filepath.Join(cfg.Storage.DataDir, "backups")
	}
	if cfg.Storage.EngineDB == "" {
		cfg.Storage.EngineDB = filepath.Join(cfg.Storage.DataDir, "engine.db")
	}
	if cfg.Storage.DeviceContextFile == "" {
		cfg.Storage.DeviceContextFile = filepath.Join(cfg.Storage.DataDir, "device.json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
