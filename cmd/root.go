// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "github-loc",
	Short: "A CLI tool to estimate a user's lifetime lines of code on GitHub.",
	Long: `github-loc is a CLI tool that estimates the total lines of code the
authenticated user has contributed across all repositories they can access,
aggregating per-repository addition/deletion counts with a local cache to
avoid redundant API calls.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
}
