// Gray Logic IoT - MQTT event fan-out and device shadow service
//
// This is the main entry point for the graylogic-iot binary. It provides:
//   - run: the long-lived service (event distributor, shadow, journal, API)
//   - publish / listen: one-shot MQTT tools sharing the same configuration
//   - shadow: get, update and delete requests against a thing's shadow
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "GRAYLOGIC_IOT_CONFIG"

// Persistent flags shared by every subcommand.
var (
	configFlag   string
	logLevelFlag string
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of tests.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graylogic-iot",
		Short:         "MQTT event fan-out and device shadow service",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	root.PersistentFlags().StringVarP(&logLevelFlag, "log-level", "l", "",
		"override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newPublishCmd(),
		newListenCmd(),
		newShadowCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then GRAYLOGIC_IOT_CONFIG, then the default.
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads configuration and builds the configured logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	if logLevelFlag != "" {
		if err := log.SetLevel(logLevelFlag); err != nil {
			return nil, nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	log.Debug("configuration loaded", "path", configPath)
	return cfg, log, nil
}

// isShutdown reports whether err is the result of a requested shutdown.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
