package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"deskmate/internal/config"
	"deskmate/internal/logging"
	"deskmate/internal/trust"
)

var (
	version   = "0.1.0"
	modelFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskmate",
		Short: "AI desktop assistant with folder-scoped trust",
		Long: `Deskmate is an AI assistant that reads and writes files, runs shell
commands, loads skills, and calls external tool servers inside folders
you have explicitly authorized, mediated by per-folder trust levels.`,
		RunE: runChat,
	}

	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model to use (overrides config)")

	rootCmd.AddCommand(
		newFoldersCmd(),
		newPermissionsCmd(),
		newMCPCmd(),
		newSessionsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("deskmate version %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if modelFlag != "" {
		cfg.Model.Name = modelFlag
	}

	if cfg.Logging.ToFile {
		if err := logging.EnableFileLogging(config.Dir(), logging.Level(cfg.Logging.Level)); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: file logging disabled:", err)
		}
	}
	return cfg, nil
}

// openTrustStore opens the trust store next to the config file.
func openTrustStore() (*trust.Store, error) {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return trust.NewStore(filepath.Join(dir, "trust.yaml"))
}
