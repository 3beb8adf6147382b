// Package cmd defines the CLI commands for the sitecorpus executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/config"
	"github.com/JakeFAU/sitecorpus/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env carries what every subcommand needs once configuration is loaded.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command. v collects flag bindings from every
// subcommand so that flags override file and environment values.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitecorpus",
		Short: "Crawl one website into page records and build a text corpus from them.",
		Long: `sitecorpus crawls a single domain breadth-first, extracting visible text
from HTML, plain text and PDF documents (with OCR for scanned PDFs) into one
JSON record per page. The build command deduplicates those records and filters
them by language into a JSON Lines corpus.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newBuildCmd(v))
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fatalLogger().Fatal("command execution failed", zap.Error(err))
	}
}

// fatalLogger returns the configured global logger, or a production logger
// when configuration failed before one was installed.
func fatalLogger() *zap.Logger {
	if logger := zap.L(); logger.Core().Enabled(zap.FatalLevel) {
		return logger
	}
	logger, err := logging.New(false)
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
