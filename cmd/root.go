// Package cmd implements the aicore command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"aicore/internal/config"
	"aicore/internal/log"
)

var (
	flagDebug   bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "aicore",
	Short: "aicore - AI agent orchestration service",
	Long: `aicore runs an AI agent over a PostgreSQL-backed stack: hybrid
retrieval with query expansion, a durable task queue, per-identity rate
limiting and a circuit breaker in front of the model endpoint.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.New(log.Config{Level: level, JSON: flagJSONLog}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")
}

// loadConfig loads and validates the application configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
