package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"
)

// EnvConfigPath names the variable that points at a config file when no
// path is given explicitly.
const EnvConfigPath = "MCN_CONFIG"

// Load merges defaults, the YAML file at path (if any) and MCN_*
// environment overrides, then validates the result. An empty path falls back
// to $MCN_CONFIG; if that is also empty only defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return Parse(cfg, data)
}

// Parse overlays YAML data onto cfg. Unknown keys are rejected.
func Parse(cfg *Config, data []byte) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyEnvOverrides applies MCN_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg)
}
