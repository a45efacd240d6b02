package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/massfinder/parish-ingest/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record totals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		return store.With(cmd.Context(), openStore(cfg), func(ctx context.Context, st store.Store) error {
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			formatStats(os.Stdout, stats)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
