package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from "30s"-style strings in both
// YAML and environment variables.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalText lets env overrides use the same syntax.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full pier configuration.
type Config struct {
	Marketplace MarketplaceConfig `yaml:"marketplace" envPrefix:"PIER_MARKETPLACE_"`
	OAuth       OAuthConfig       `yaml:"oauth" envPrefix:"PIER_OAUTH_"`
	Storage     StorageConfig     `yaml:"storage" envPrefix:"PIER_STORAGE_"`
	Install     InstallConfig     `yaml:"install" envPrefix:"PIER_INSTALL_"`
	LogLevel    string            `yaml:"logLevel" env:"PIER_LOG_LEVEL"`
}

// MarketplaceConfig points at the backend that serves packages and runs the
// trusted half of the authorization handshake.
type MarketplaceConfig struct {
	BaseURL string   `yaml:"baseUrl" env:"BASE_URL"`
	Timeout Duration `yaml:"timeout" env:"TIMEOUT"`
}

// OAuthConfig tunes the local side of the authorization handshake.
type OAuthConfig struct {
	CallbackPort int `yaml:"callbackPort" env:"CALLBACK_PORT"`
}

// StorageConfig locates the local database holding states and tokens.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means the default under the
	// user config directory; "memory" disables persistence entirely.
	Path string `yaml:"path" env:"PATH"`
}

// InstallConfig qualifies backend installation registrations.
type InstallConfig struct {
	Scope          string `yaml:"scope" env:"SCOPE"`
	OrganizationID string `yaml:"organizationId" env:"ORGANIZATION_ID"`
}
