package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the record store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		// store.With migrates before calling fn.
		return store.With(cmd.Context(), openStore(cfg), func(context.Context, store.Store) error {
			zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
