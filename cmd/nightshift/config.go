package main

import (
	"fmt"
	"os"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/pkg/utils/keygen"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file with a fresh API key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := resolveConfigPath()
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		// Load with no file so only defaults and environment apply.
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		// Left empty so the working directory follows the invoking shell.
		cfg.Sandbox.WorkingDir = ""
		key := keygen.GenerateAPIKey()
		cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, config.APIKeyConfig{Key: key, UserID: "admin"})
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nAPI key for user admin: %s\n", path, key)
		fmt.Fprintln(cmd.OutOrStdout(), "Grant it admin rights with: nightshift users grant admin admin")
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
