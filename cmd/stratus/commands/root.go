package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stratus",
		Short: "Stratus - Cloud Service Deployment Orchestrator",
		Long: `Stratus deploys and manages cloud service instances from declarative
service templates.

Features:
  - YAML service templates validated via CUE
  - Per-service deployment state machine with a durable order ledger
  - Asynchronous terraform execution with webhook callbacks
  - Policy enforcement via OPA/rego
  - Credential caching with per-CSP plugins`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}
