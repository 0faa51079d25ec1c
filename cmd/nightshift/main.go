package main

import (
	"fmt"
	"os"

	"github.com/nightshift/backend/internal/app"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "nightshift",
	Short:         "Submit, approve and inspect sandboxed agent tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $NIGHTSHIFT_CONFIG or ~/.nightshift/config.yaml)")
	rootCmd.AddCommand(
		submitCmd, queueCmd, resultsCmd, approveCmd, cancelCmd, logsCmd,
		mountsCmd, sandboxCmd, usersCmd, configCmd,
	)
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("NIGHTSHIFT_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// cliLogger writes warnings and errors only, keeping stdout for results.
func cliLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := cfg.Logger
	if lc.Level == "" || lc.Level == "info" || lc.Level == "debug" {
		lc.Level = "warn"
	}
	lc.OutputPaths = []string{"stderr"}
	return logger.New(lc)
}

func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := cliLogger(cfg)
	if err != nil {
		return nil, err
	}
	// CLI commands never receive webhooks.
	return app.New(cfg, app.Options{Logger: log, Handlers: noHandlers})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
