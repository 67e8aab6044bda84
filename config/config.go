// Package config provides configuration for the forestry command line,
// read from a YAML file with environment overrides and sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"forestry/logging"
)

// Config is the complete front-end configuration.
type Config struct {
	Build   BuildConfig    `yaml:"build"`
	Logging logging.Config `yaml:"logging"`
}

// BuildConfig bounds tree construction. The builder itself accepts any
// input; the front end rejects oversized value lists before building.
type BuildConfig struct {
	// MaxValues is the largest accepted number of input values; zero means
	// unbounded.
	MaxValues int `yaml:"max_values"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Build:   BuildConfig{MaxValues: 0},
		Logging: *logging.DefaultConfig(),
	}
}

// Load reads the configuration from path, falling back to defaults when
// path is empty, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FORESTRY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FORESTRY_MAX_VALUES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Build.MaxValues = n
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Build.MaxValues < 0 {
		return fmt.Errorf("build.max_values must not be negative, got %d", c.Build.MaxValues)
	}
	return nil
}
