// Package commands implements the soulid command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "soulid",
	Short: "soulid - soulbound identity registry",
	Long: `soulid issues one non-transferable identity per holder address, binds
unique case-insensitive names to identities and resolves ids, names and
holders to metadata URIs.

Configuration comes from SOULID_* environment variables and an optional
.env file in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}
