package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pier/internal/config"
	"pier/internal/oauth"
	"pier/pkg/logging"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can react to the kind of failure.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthFailed indicates the authorization handshake failed.
	ExitCodeAuthFailed = 3
)

var (
	flagConfigPath string
	flagLogLevel   string

	// loadedConfig and loadedConfigPath are set once per invocation in the
	// persistent pre-run; newApp consumes them instead of re-reading the
	// config file and environment.
	loadedConfig     config.Config
	loadedConfigPath string
)

// rootCmd is the entry point when pier is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "pier",
	Short: "Install and authorize MCP servers from the marketplace",
	Long: `pier installs third-party MCP servers from a marketplace backend,
running the OAuth authorization handshake first when a server requires it,
and walks each installation through its transport-specific steps.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		loadedConfig = cfg
		loadedConfigPath = path
		level := cfg.LogLevel
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		logging.Init(logging.ParseLevel(level), os.Stderr)
		return nil
	},
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and maps handled errors to semantic exit codes.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pier version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	var flowErr *oauth.FlowError
	if errors.As(err, &flowErr) {
		return ExitCodeAuthFailed
	}
	var authFailed *authFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

// loadConfig resolves the config directory (flag or default) and loads the
// effective configuration.
func loadConfig() (config.Config, string, error) {
	path := flagConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("load configuration: %w", err)
	}
	return cfg, path, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config-path", "",
		"Configuration directory (default ~/.config/pier)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"Log level: debug, info, warn, error")
}
