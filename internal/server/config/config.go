package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the room store configuration.
type Config struct {
	DataDir          string        `yaml:"data_dir" json:"data_dir"`
	Worlds           []string      `yaml:"worlds" json:"worlds"`                         // worlds opened at startup
	CleanupInterval  time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`     // 0 disables the cleaner
	CleanupPerSecond float64       `yaml:"cleanup_per_second" json:"cleanup_per_second"` // 0 = unlimited
	CleanupMinAge    time.Duration `yaml:"cleanup_min_age" json:"cleanup_min_age"`
	SaveConcurrency  int           `yaml:"save_concurrency" json:"save_concurrency"`
	IndexPath        string        `yaml:"index_path" json:"index_path"` // empty disables the room index
	LogLevel         string        `yaml:"log_level" json:"log_level"`   // debug, info, warn or error
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:          "./data",
		CleanupInterval:  5 * time.Minute,
		CleanupPerSecond: 200,
		CleanupMinAge:    10 * time.Minute,
		SaveConcurrency:  4,
		LogLevel:         "info",
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.CleanupInterval < 0 || c.CleanupMinAge < 0 {
		return fmt.Errorf("cleanup durations must not be negative")
	}
	if c.CleanupPerSecond < 0 {
		return fmt.Errorf("cleanup_per_second must not be negative")
	}
	if c.SaveConcurrency < 1 {
		return fmt.Errorf("save_concurrency must be at least 1")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Worlds))
	for _, w := range c.Worlds {
		if seen[w] {
			return fmt.Errorf("world %q listed twice", w)
		}
		seen[w] = true
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["data"] {
		cfg.DataDir = fromFile.DataDir
	}
	if !explicitFlags["worlds"] {
		cfg.Worlds = fromFile.Worlds
	}
	if !explicitFlags["cleanup-interval"] {
		cfg.CleanupInterval = fromFile.CleanupInterval
	}
	if !explicitFlags["cleanup-per-second"] {
		cfg.CleanupPerSecond = fromFile.CleanupPerSecond
	}
	if !explicitFlags["cleanup-min-age"] {
		cfg.CleanupMinAge = fromFile.CleanupMinAge
	}
	if !explicitFlags["save-concurrency"] {
		cfg.SaveConcurrency = fromFile.SaveConcurrency
	}
	if !explicitFlags["index"] {
		cfg.IndexPath = fromFile.IndexPath
	}
	if !explicitFlags["log-level"] {
		cfg.LogLevel = fromFile.LogLevel
	}
}
