// Package config loads settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reddit-highlighter/visits"
	"reddit-highlighter/watch"
)

// Config holds all settings.
type Config struct {
	Storage           StorageConfig `yaml:"storage"`
	HTTP              HTTPConfig    `yaml:"http"`
	LoadAll           LoadAllConfig `yaml:"load_all"`
	Port              string        `yaml:"port"`
	LogLevel          string        `yaml:"log_level"`
	Expiration        time.Duration `yaml:"expiration"`
	InclusiveBoundary bool          `yaml:"inclusive_boundary"`
}

// StorageConfig selects the visit history backend. The first non-empty of
// SQLitePath, Bucket and LocalPath wins.
type StorageConfig struct {
	LocalPath  string `yaml:"local_path"`
	Bucket     string `yaml:"bucket"`
	SQLitePath string `yaml:"sqlite_path"`
}

// HTTPConfig controls page fetches.
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoadAllConfig paces loading of "continue this thread" links.
type LoadAllConfig struct {
	StepDelay   time.Duration `yaml:"step_delay"`
	MaxFailures int           `yaml:"max_failures"`
}

func (c *Config) defaults() {
	if c.Storage.LocalPath == "" && c.Storage.Bucket == "" && c.Storage.SQLitePath == "" {
		c.Storage.LocalPath = "./data"
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.LoadAll.StepDelay <= 0 {
		c.LoadAll.StepDelay = watch.DefaultStepDelay
	}
	if c.LoadAll.MaxFailures <= 0 {
		c.LoadAll.MaxFailures = watch.DefaultMaxFailures
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Expiration <= 0 {
		c.Expiration = visits.DefaultExpiration
	}
}

// env applies environment overrides.
func (c *Config) env() error {
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("LOCAL_STORAGE"); v != "" {
		c.Storage.LocalPath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("EXPIRATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse EXPIRATION: %w", err)
		}
		c.Expiration = d
	}
	return nil
}

// Load reads path if it is non-empty, applies environment overrides and
// fills in defaults.
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
	if err := cfg.env(); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, errors.New("unknown log level: " + c.LogLevel)
	}
	return level, nil
}
