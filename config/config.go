/*
Package config loads server configuration from YAML with defaults.

The deployment-tunable parameters live here rather than in code: the
streak grace window and the repeatable-reward cooldown are deliberate
configuration values, not constants.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Port the HTTP API listens on.
	Port int `yaml:"port"`

	// DBPath is the SQLite database file (":memory:" for ephemeral).
	DBPath string `yaml:"db"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// GraceDays is how many skipped days a streak tolerates. 0 means
	// strictly consecutive days.
	GraceDays int `yaml:"grace_days"`

	// RepeatCooldown is the default re-eligibility window for
	// repeatable rewards.
	RepeatCooldown time.Duration `yaml:"repeat_cooldown"`

	// Timezone is the reference timezone for calendar days.
	Timezone string `yaml:"timezone"`

	// SweepInterval is how often the background sweep checks whether
	// today's streak expiry has run yet.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SeedExamples creates the example reward definitions on startup
	// when they do not exist yet.
	SeedExamples bool `yaml:"seed_examples"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "coinage.db",
		LogLevel:       "info",
		GraceDays:      0,
		RepeatCooldown: 24 * time.Hour,
		Timezone:       "UTC",
		SweepInterval:  1 * time.Hour,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail at runtime.
func (c Config) Validate() error {
	if c.GraceDays < 0 {
		return fmt.Errorf("grace_days must be >= 0")
	}
	if c.RepeatCooldown < 0 {
		return fmt.Errorf("repeat_cooldown must be >= 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves the reference timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}
