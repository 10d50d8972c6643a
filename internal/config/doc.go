// Package config loads pier's configuration: built-in defaults, overlaid
// with config.yaml from the user config directory, overlaid with PIER_*
// environment variables.
package config
