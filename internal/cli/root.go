// Package cli wires the calgrid commands together.
package cli

import (
	"github.com/spf13/cobra"

	"calgrid/internal/config"
	appLog "calgrid/internal/log"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0-dev"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "calgrid",
	Short: "Calendar day view with overlap-aware column layout",
	Long: "calgrid keeps a set of calendar events, imports ICS subscriptions and lays\n" +
		"each day out so that overlapping events sit side by side.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			appLog.SetLevel(appLog.LevelDebug)
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calgrid/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads .env, the YAML config and CALGRID_* overrides, in that
// order, and applies the configured log level unless --debug was given.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(".env"); err != nil {
		appLog.Warn("failed to load .env", "error", err.Error())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if cfg == nil {
			return nil, err
		}
		appLog.Warn("config not persisted, continuing with defaults", "path", configPath, "error", err.Error())
	}
	cfg.ApplyEnv()

	if !debug {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("calgrid %s\n", Version)
	},
}
