package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"pier/pkg/logging"
)

const (
	userConfigDir  = ".config/pier"
	configFileName = "config.yaml"
	storageName    = "pier.db"
)

// DefaultConfigPath returns the per-user configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			BaseURL: "https://marketplace.pier.dev",
			Timeout: Duration(30 * time.Second),
		},
		OAuth: OAuthConfig{
			CallbackPort: 19877,
		},
		Install: InstallConfig{
			Scope: "user",
		},
		LogLevel: "info",
	}
}

// Load builds the effective configuration: defaults, then config.yaml from
// configPath when present, then PIER_* environment overrides. A missing file
// is fine; a malformed one is an error.
func Load(configPath string) (Config, error) {
	cfg := Default()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("read %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configFilePath, err)
		}
		logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}
	return cfg, nil
}

// StoragePath resolves where the local database lives. An empty configured
// path lands next to config.yaml; the literal "memory" disables persistence.
func (c Config) StoragePath(configPath string) string {
	switch c.Storage.Path {
	case "":
		return filepath.Join(configPath, storageName)
	case "memory":
		return ""
	default:
		return c.Storage.Path
	}
}
