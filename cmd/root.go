// Package cmd defines and implements the CLI commands for the rendercrawl executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/config"
	"github.com/rendercrawl/rendercrawl/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rendercrawl",
		Short: "A domain-polite headless-browser crawler.",
		Long: `rendercrawl fetches pages through a pool of headless browser instances,
recording both the initial HTML delivered over the wire and the DOM after
JavaScript execution. It paces requests per domain and throttles itself
when the host machine runs low on CPU or memory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars use the RENDERCRAWL_ prefix)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// loadEnvironment builds the config and logger shared by subcommands.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
