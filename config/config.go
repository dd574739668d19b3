// Package config loads the daemon configuration: a YAML file, then
// STOCKFLOW_* environment overrides, then defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all stockflow configuration.
type Config struct {
	ListenAddr string       `yaml:"listen_addr"`
	DBPath     string       `yaml:"db_path"`
	LogLevel   string       `yaml:"log_level"`
	Remote     RemoteConfig `yaml:"remote"`
	Cache      CacheConfig  `yaml:"cache"`
	Sync       SyncConfig   `yaml:"sync"`
	Admin      AdminConfig  `yaml:"admin"`
}

// RemoteConfig points at the central inventory backend.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the reference data cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	QuotaBytes int64         `yaml:"quota_bytes"`
}

// SyncConfig controls the queue drain behaviour.
type SyncConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// AdminConfig protects the local admin API. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8087"
	}
	if c.DBPath == "" {
		c.DBPath = "stockflow.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * time.Minute
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.SettleDelay <= 0 {
		c.Sync.SettleDelay = 2 * time.Second
	}
	if c.Sync.RetryBackoff <= 0 {
		c.Sync.RetryBackoff = 30 * time.Second
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = 15 * time.Second
	}
}

// env overrides a field from the environment when the variable is set.
func env(key string, out *string) {
	if v := os.Getenv(key); v != "" {
		*out = v
	}
}

func envDuration(key string, out *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*out = d
	return nil
}

func (c *Config) applyEnv() error {
	env("STOCKFLOW_LISTEN_ADDR", &c.ListenAddr)
	env("STOCKFLOW_DB_PATH", &c.DBPath)
	env("STOCKFLOW_LOG_LEVEL", &c.LogLevel)
	env("STOCKFLOW_REMOTE_URL", &c.Remote.BaseURL)
	env("STOCKFLOW_ADMIN_USER", &c.Admin.User)
	env("STOCKFLOW_ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)
	if err := envDuration("STOCKFLOW_CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}
	if err := envDuration("STOCKFLOW_SYNC_SETTLE_DELAY", &c.Sync.SettleDelay); err != nil {
		return err
	}
	if err := envDuration("STOCKFLOW_SYNC_RETRY_BACKOFF", &c.Sync.RetryBackoff); err != nil {
		return err
	}
	return envDuration("STOCKFLOW_PROBE_INTERVAL", &c.Sync.ProbeInterval)
}

// Load reads the YAML file at path (missing file is fine: defaults plus
// environment apply), layers STOCKFLOW_* overrides on top, then fills
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env and defaults
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("config: remote.base_url is required (or STOCKFLOW_REMOTE_URL)")
	}
	return cfg, nil
}
