package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/charles/internal/config"
	"github.com/scrypster/charles/internal/storage"
)

var searchOpts struct {
	k        int
	category string
}

var searchCmd = &cobra.Command{
	Use:   "search <text...>",
	Short: "Print the prior statements nearest to text",
	Args:  cobra.MinimumNArgs(1),
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

		store, _, err := openVectorStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		matches, err := store.SearchText(cmd.Context(), strings.Join(args, " "), searchOpts.k,
			storage.Filter{Category: searchOpts.category})
		if err != nil {
			return err
		}
		return printMatches(cmd.OutOrStdout(), matches)
	},
}

func printMatches(w io.Writer, matches []storage.Match) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tTYPE\tCATEGORY\tTEXT")
	for _, m := range matches {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", m.Distance, m.Metadata.PriorType, m.Metadata.PriorCategory, m.Text)
	}
	return tw.Flush()
}

func init() {
	searchCmd.Flags().IntVarP(&searchOpts.k, "k", "k", 5, "number of results")
	searchCmd.Flags().StringVar(&searchOpts.category, "category", "", "restrict to one prior category")
	rootCmd.AddCommand(searchCmd)
}
