package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/lessonrag/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lessonrag",
	Short: "Index lessons for retrieval and query them",
	Long: `lessonrag chunks lesson text, embeds the chunks and stores the vectors so
tutoring agents can retrieve the passages closest to a question.

Configuration is read from lessonrag.toml (or --config), a .env file and
LESSONRAG_* environment variables, in that order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default lessonrag.toml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// loadConfig reads configuration and builds the stderr logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, config.NewLogger(cfg.Log, os.Stderr), nil
}
