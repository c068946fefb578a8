package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the enrollment admin CLI. Subcommands
// (migrate, backup, clear) are attached here.
var rootCmd = &cobra.Command{
	Use:           "byov-admin",
	Short:         "BYOV enrollment admin CLI",
	Long:          "Administrative utilities for the BYOV enrollment store (schema migration, backups, data reset).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
