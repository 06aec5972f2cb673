// Package config provides configuration management for odin-sync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odin-security/odin-sync/internal/cloud"
	"github.com/odin-security/odin-sync/internal/local"
)

// DefaultConfigDir returns the default config directory (~/.odin-sync).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".odin-sync"), nil
}

// DefaultConfigPath returns the default config file path (~/.odin-sync/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CloudConfig is the YAML shape of the cloud database settings.
type CloudConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	TLS      bool   `yaml:"tls,omitempty"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
	MinConns int32  `yaml:"min_conns,omitempty"`
}

// RedisConfig configures the optional distributed sync lock.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	LockTTL  string `yaml:"lock_ttl,omitempty"`
}

// Enabled returns true if a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LockTTLDuration parses the lock TTL, falling back to ten minutes.
func (r RedisConfig) LockTTLDuration() time.Duration {
	if r.LockTTL == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(r.LockTTL)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	OrgID             string `yaml:"org_id"`
	EventLookbackDays int    `yaml:"event_lookback_days,omitempty"`
	BatchSize         int    `yaml:"batch_size,omitempty"`
	MaxSyncAgeMinutes int    `yaml:"max_sync_age_minutes,omitempty"`
	RetentionDays     int    `yaml:"retention_days,omitempty"`
}

// APIConfig configures the operational HTTP listener.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Config is the full odin-sync configuration file.
type Config struct {
	Cloud CloudConfig  `yaml:"cloud"`
	Local local.Config `yaml:"local"`
	Redis RedisConfig  `yaml:"redis,omitempty"`
	Sync  SyncConfig   `yaml:"sync"`
	API   APIConfig    `yaml:"api,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *Config) Validate() error {
	if c.Cloud.Host == "" {
		return errors.New("cloud.host is required")
	}
	if c.Cloud.Database == "" {
		return errors.New("cloud.database is required")
	}
	if c.Cloud.Username == "" {
		return errors.New("cloud.username is required")
	}
	if c.Local.Path == "" {
		return errors.New("local.path is required")
	}
	if c.Sync.OrgID == "" {
		return errors.New("sync.org_id is required")
	}
	return nil
}

// CloudStoreConfig converts the YAML shape to the pool configuration.
func (c *Config) CloudStoreConfig() cloud.Config {
	port := c.Cloud.Port
	if port == 0 {
		port = 5432
	}
	cfg := cloud.DefaultConfig(c.Cloud.Host, port, c.Cloud.Database, c.Cloud.Username, c.Cloud.Password)
	cfg.TLS = c.Cloud.TLS
	if c.Cloud.MaxConns > 0 {
		cfg.MaxConns = c.Cloud.MaxConns
	}
	if c.Cloud.MinConns > 0 {
		cfg.MinConns = c.Cloud.MinConns
	}
	return cfg
}

// Load reads the configuration from the given path and applies environment
// variable overrides. If the file does not exist, an empty config plus
// overrides is returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Restricted permissions: the file carries database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
