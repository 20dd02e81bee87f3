// Package config loads and validates the daemon configuration.
//
// DESIGN: One YAML file, one Config struct. Zero values are replaced by the
// defaults in defaults.go so an empty file is a valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Host     HostConfig     `yaml:"host"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Clock    ClockConfig    `yaml:"clock"`
	Stats    StatsConfig    `yaml:"stats"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HostConfig describes the chat host to attach to.
type HostConfig struct {
	URL    string `yaml:"url"`     // Websocket event stream endpoint
	APIURL string `yaml:"api_url"` // HTTP API base for chat state accessors
}

// CatalogConfig controls the remote price catalog.
type CatalogConfig struct {
	URL      string        `yaml:"url"`
	Provider string        `yaml:"provider"` // Source id the catalog covers
	MaxAge   time.Duration `yaml:"max_age"`  // Freshness threshold
}

// ClockConfig controls reference-clock correction.
type ClockConfig struct {
	ReferenceURL   string        `yaml:"reference_url"` // Empty = no correction
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// StatsConfig controls the loopback stats endpoint.
type StatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SettingsConfig locates the persisted settings blob.
type SettingsConfig struct {
	Path string `yaml:"path"` // SQLite file path; empty = in-memory
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads a YAML config file, applies defaults, and validates.
// A missing path returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host.URL == "" {
		c.Host.URL = DefaultHostURL
	}
	if c.Host.APIURL == "" {
		c.Host.APIURL = DefaultHostAPIURL
	}
	if c.Catalog.URL == "" {
		c.Catalog.URL = DefaultCatalogURL
	}
	if c.Catalog.Provider == "" {
		c.Catalog.Provider = DefaultCatalogProvider
	}
	if c.Catalog.MaxAge <= 0 {
		c.Catalog.MaxAge = DefaultCatalogMaxAge
	}
	if c.Clock.ResyncInterval <= 0 {
		c.Clock.ResyncInterval = DefaultResyncInterval
	}
	if c.Stats.Addr == "" {
		c.Stats.Addr = DefaultStatsAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	if c.Catalog.MaxAge < time.Minute {
		return fmt.Errorf("catalog.max_age must be >= 1m, got %s", c.Catalog.MaxAge)
	}
	return nil
}
