package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "charles",
	Short: "Charles Petrescu, an active-inference conversational agent",
	Long: `charles runs a conversational agent whose replies are steered by a
policy chosen from a generative model of beliefs and desires.

Configuration comes from CHARLES_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a production logger, or a development logger when
// CHARLES_LOG_LEVEL is debug.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogLevel == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
