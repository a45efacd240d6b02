package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List run ledger entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		org, _ := cmd.Flags().GetString("organization")
		runID, _ := cmd.Flags().GetString("run-id")
		limit, _ := cmd.Flags().GetInt("limit")

		return store.With(cmd.Context(), openStore(cfg), func(ctx context.Context, st store.Store) error {
			entries, err := st.ListRunLog(ctx, model.RunLogFilter{
				Organization: org,
				RunID:        runID,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stderr, "No runs found.")
				return nil
			}
			formatRunLog(os.Stdout, entries)
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().String("organization", "", "filter by organization name")
	runsCmd.Flags().String("run-id", "", "filter by run ID")
	runsCmd.Flags().Int("limit", 50, "max number of entries to display")
	rootCmd.AddCommand(runsCmd)
}

// formatRunLog writes ledger entries as a table to out.
func formatRunLog(out io.Writer, entries []model.RunLedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tORGANIZATION\tSTATUS\tRECORDS\tWHEN\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------------\t------\t-------\t----\t-----")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(e.RunID),
			e.Organization,
			e.Status,
			e.RecordCount,
			e.OccurredAt.Format("2006-01-02 15:04"),
			clip(model.Deref(e.ErrorMessage), 60),
		)
	}
	_ = w.Flush()
}
