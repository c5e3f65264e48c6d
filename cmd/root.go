// Package cmd provides the phrasedec command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/phrasedec/core/config"
	"github.com/adalundhe/phrasedec/core/storage"
)

// =============================================================================
// Root Command Flags
// =============================================================================

var (
	configPath string
	projectDir string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "phrasedec",
	Short: "phrasedec - a phrase-based statistical machine translation decoder",
	Long: `phrasedec translates sentences with a phrase table, a language model and
a log-linear combination of feature scores, using a multi-stack beam search.

Configuration is read from .phrasedec/config.yaml in the project directory,
the user configuration directory, the file given with --config and
PHRASEDEC_* environment variables, in that order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "Project directory holding .phrasedec/")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the configuration manager and applies the global flags.
func loadConfig() (*config.Manager, error) {
	m := config.NewManager(storage.ResolveDirs(), projectDir, configPath)
	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := m.Apply(&config.Config{Logging: config.LoggingConfig{Level: logLevel, Format: logFormat}}); err != nil {
		return nil, err
	}
	return m, nil
}

// newLogger writes logs to stderr so that translations on stdout stay clean.
func newLogger(cfg *config.Config) *slog.Logger {
	return cfg.Logging.Logger(os.Stderr)
}
