package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/charles/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Embed the prior corpus into the vector index and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		store, corpus, err := openVectorStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		count, err := store.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index holds %d documents (%d in corpus, %d categories)\n",
			count, corpus.Size(), len(corpus.Categories()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
