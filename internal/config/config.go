// Package config loads automark settings from the TOML config file and
// environment. Precedence: flags bind over env, env over file, file over
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved application configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	// DataDir holds the document file and the replica's actor id.
	DataDir string `mapstructure:"data_dir"`
}

type SyncConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServerURL   string `mapstructure:"server_url"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
	AutoSync    bool   `mapstructure:"auto_sync"`
	// AutoSyncIntervalSecs is the fallback interval between autosync
	// runs when no local edits trigger one.
	AutoSyncIntervalSecs int `mapstructure:"auto_sync_interval_secs"`
	MaxRetries           int `mapstructure:"max_retries"`
	// DocumentID names the shared document; peers on a different
	// document refuse to sync.
	DocumentID string `mapstructure:"document_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DocumentPath returns the location of the binary document file.
func (c *Config) DocumentPath() string {
	return filepath.Join(c.Storage.DataDir, "bookmarks.automark")
}

// Timeout returns the per-sync-attempt timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSecs) * time.Second
}

// AutoSyncInterval returns the periodic autosync interval.
func (c *Config) AutoSyncInterval() time.Duration {
	return time.Duration(c.Sync.AutoSyncIntervalSecs) * time.Second
}

// Load reads configuration from path, or from the default location
// ($XDG_CONFIG_HOME/automark/config.toml) when path is empty. A missing
// file is not an error; defaults and environment apply. Environment
// variables use the AUTOMARK_ prefix with underscores, for example
// AUTOMARK_SYNC_SERVER_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setDefaults(v)

	v.SetEnvPrefix("AUTOMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(defaultConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.server_url", "ws://localhost:8765/sync")
	v.SetDefault("sync.timeout_secs", 30)
	v.SetDefault("sync.auto_sync", false)
	v.SetDefault("sync.auto_sync_interval_secs", 300)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.document_id", "bookmarks")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

func defaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "automark")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "automark")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "automark")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "automark")
}
