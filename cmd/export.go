package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/export"
	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

// exportLimit is high enough to dump every stored parish.
const exportLimit = 1_000_000

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored parishes as json, csv, xlsx, geojson or shp",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		formatName, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		org, _ := cmd.Flags().GetString("organization")
		state, _ := cmd.Flags().GetString("state")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		return store.With(cmd.Context(), openStore(cfg), func(ctx context.Context, st store.Store) error {
			recs, err := st.ListRecords(ctx, model.RecordFilter{
				Organization: org,
				State:        state,
				Limit:        exportLimit,
			})
			if err != nil {
				return err
			}
			if err := export.WriteFile(out, format, recs); err != nil {
				return err
			}
			zap.L().Info("export complete",
				zap.String("format", string(format)),
				zap.String("out", out),
				zap.Int("records", len(recs)),
			)
			if out != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d parishes to %s\n", len(recs), out)
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "output format: json, csv, xlsx, geojson or shp")
	exportCmd.Flags().String("out", "-", "output path (- for stdout)")
	exportCmd.Flags().String("organization", "", "only export this organization")
	exportCmd.Flags().String("state", "", "only export this state")
	rootCmd.AddCommand(exportCmd)
}
