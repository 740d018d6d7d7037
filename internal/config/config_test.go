package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"empty retry delays", func(c *Config) { c.Sync.RetryDelays = nil }},
		{"zero max attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }},
		{"bad scope", func(c *Config) { c.Sync.Scope = "some" }},
		{"zero backup keep", func(c *Config) { c.Backup.Keep = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}, cfg.Sync.RetryDelays)
	assert.Equal(t, 5, cfg.Backup.Keep)
	assert.False(t, cfg.Sync.CellularAllowed)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chartsync.yaml")
	content := `
remote:
  base_url: https://sync.example.com
  timeout: 10s
storage:
  data_dir: ` + filepath.Join(dir, "data") + `
sync:
  batch_size: 10
  cellular_allowed: true
  metadata_ttl: 90s
scheduler:
  user_id: tester
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.True(t, cfg.Sync.CellularAllowed)
	assert.Equal(t, 90*time.Second, cfg.Sync.MetadataTTL)
	assert.Equal(t, "tester", cfg.Scheduler.UserID)

	// Dependent paths derive from the overridden data dir.
	assert.Equal(t, filepath.Join(dir, "data", "charts"), cfg.Storage.ChartsDir)
	assert.Equal(t, filepath.Join(dir, "data", "engine.db"), cfg.Storage.EngineDB)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHARTSYNC_SYNC_BATCH_SIZE", "7")
	t.Setenv("CHARTSYNC_REMOTE_TOKEN", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, "secret", cfg.Remote.Token)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.ChartsDir = filepath.Join(dir, "data", "charts")
	cfg.Storage.BackupDir = filepath.Join(dir, "data", "backups")
	cfg.Storage.EngineDB = filepath.Join(dir, "data", "engine.db")

	require.NoError(t, cfg.EnsureDirectories())

	for _, d := range []string{cfg.Storage.DataDir, cfg.Storage.ChartsDir, cfg.Storage.BackupDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
