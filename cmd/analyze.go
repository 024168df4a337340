// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/github-loc/internal/cache"
	"github.com/naka-gawa/github-loc/internal/config"
	"github.com/naka-gawa/github-loc/internal/gateway"
	"github.com/naka-gawa/github-loc/internal/usecase"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Estimates total contributed lines of code and outputs as JSON",
	Long: `Estimates the lines of code contributed by the authenticated user (or
GITHUB_USERNAME, if set) across every accessible repository, and outputs the
aggregated result in JSON format. Per-repository results are cached in a
local JSON file for 24 hours.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Get the verbose flag from the root command to set up the logger.
		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		logger := log.New(io.Discard, "", log.LstdFlags) // Default: discard all logs.
		if verbose {
			logger.SetOutput(os.Stderr) // If verbose, log to standard error.
		}

		cfg, err := config.NewLoader("GITHUB").Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Set GITHUB_TOKEN to a token from https://github.com/settings/tokens (scope: repo, or public_repo for public repositories only).")
			os.Exit(1)
		}

		// An interrupt cancels the run between repositories; the cache is
		// flushed below before the process exits.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		githubGateway, err := gateway.NewGitHubGateway(cfg.Token, cfg.RequestDelay, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create GitHub gateway: %v\n", err)
			os.Exit(1)
		}
		store := cache.Open(cfg.CacheFile, cfg.CacheTTL, logger)
		aggregator := usecase.NewAggregator(githubGateway, store, cfg, logger)

		result, runErr := aggregator.AnalyzeAll(ctx)

		// The per-repository cache is the only state worth keeping; flush it
		// whether the run finished, was interrupted, or failed.
		if err := store.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save cache: %v\n", err)
		}

		if result != nil {
			jsonData, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to marshal results to JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(jsonData))
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to analyze repositories: %v\n", runErr)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
