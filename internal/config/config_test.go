package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(writeConfig(t, ""), "config.toml"))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, "ws://localhost:8765/sync", cfg.Sync.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.AutoSyncInterval())
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, "bookmarks", cfg.Sync.DocumentID)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
[storage]
data_dir = "/tmp/automark-test"

[sync]
enabled = true
server_url = "ws://sync.example.com/sync"
timeout_secs = 10
auto_sync = true
max_retries = 2

[log]
level = "debug"
`)
	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/automark-test", cfg.Storage.DataDir)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "ws://sync.example.com/sync", cfg.Sync.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.True(t, cfg.Sync.AutoSync)
	assert.Equal(t, 2, cfg.Sync.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join("/tmp/automark-test", "bookmarks.automark"), cfg.DocumentPath())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, `
[sync]
server_url = "ws://from-file/sync"
`)
	t.Setenv("AUTOMARK_SYNC_SERVER_URL", "ws://from-env/sync")

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://from-env/sync", cfg.Sync.ServerURL)
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bookmarks", cfg.Sync.DocumentID)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))
	return dir
}
