package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/config"
	"github.com/massfinder/parish-ingest/internal/ingest"
	"github.com/massfinder/parish-ingest/internal/metrics"
	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/monitoring"
	"github.com/massfinder/parish-ingest/internal/store"
	"github.com/massfinder/parish-ingest/internal/telemetry"
	"github.com/massfinder/parish-ingest/pkg/geocode"
)

type ingestOptions struct {
	SourceNames []string
	SourcesFile string
	SkipGeocode bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scrape, geocode and store parishes for each configured source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		names, _ := cmd.Flags().GetStringSlice("sources")
		file, _ := cmd.Flags().GetString("sources-file")
		skip, _ := cmd.Flags().GetBool("skip-geocode")

		_, err := runIngest(ctx, cfg, os.Stdout, ingestOptions{
			SourceNames: names,
			SourcesFile: file,
			SkipGeocode: skip,
		})
		return err
	},
}

func init() {
	ingestCmd.Flags().StringSlice("sources", nil, "only ingest these sources (comma-separated names)")
	ingestCmd.Flags().String("sources-file", "", "source list YAML (default from config, then built-in)")
	ingestCmd.Flags().Bool("skip-geocode", false, "store records without resolving coordinates")
	rootCmd.AddCommand(ingestCmd)
}

// runIngest runs the pipeline over the selected sources and prints a tally.
// Failed sources are reported, not returned as errors.
func runIngest(ctx context.Context, c *config.Config, out io.Writer, opts ingestOptions) (*ingest.RunSummary, error) {
	if err := c.Validate("ingest"); err != nil {
		return nil, err
	}
	srcs, err := loadSources(c, opts.SourcesFile, opts.SourceNames)
	if err != nil {
		return nil, err
	}

	rec := metrics.New()
	var (
		res  ingest.Resolver
		gres *geocode.Resolver
	)
	if !opts.SkipGeocode {
		gres, err = newResolver(c.Geocode, rec)
		if err != nil {
			return nil, err
		}
		res = gres
	}
	reg := newRegistry(newFetcher(c.Fetch))

	var summary *ingest.RunSummary
	err = store.With(ctx, openStore(c), func(ctx context.Context, st store.Store) error {
		engine := ingest.NewEngine(reg, st, res, ingest.WithRecorder(rec))

		var runErr error
		summary, runErr = engine.Run(ctx, srcs)
		if summary != nil {
			formatSummary(out, summary)
			if gres != nil {
				formatGeocodeStats(out, gres.Stats(), gres.Len())
			}
			for _, r := range summary.Sources {
				if r.Status == model.RunStatusFailed {
					telemetry.SourceFailed(summary.RunID, r.Organization, r.Err)
				}
			}
		}

		stats, err := st.Stats(context.WithoutCancel(ctx))
		if err != nil {
			return eris.Wrap(err, "ingest: stats")
		}
		formatStats(out, stats)

		if c.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)
			checker.Check(context.WithoutCancel(ctx))
		}
		return runErr
	})

	if werr := rec.WriteTextfile(c.Metrics.TextfilePath); werr != nil {
		zap.L().Warn("ingest: write metrics textfile", zap.Error(werr))
	}
	return summary, err
}

// formatSummary writes a per-source tally table to out.
func formatSummary(out io.Writer, s *ingest.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ORGANIZATION\tSTATUS\tACCEPTED\tSKIPPED\tINVALID\tFAILED\tGEOCODED\tERROR")
	_, _ = fmt.Fprintln(w, "------------\t------\t--------\t-------\t-------\t------\t--------\t-----")
	for _, r := range s.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Organization, r.Status, r.Accepted, r.Skipped, r.Invalid, r.Failed, r.Geocoded, clip(r.Err, 60))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nRun %s: %d/%d sources succeeded, %d records added in %s\n",
		truncateID(s.RunID), s.Succeeded(), len(s.Sources), s.Accepted(),
		s.Finished.Sub(s.Started).Round(time.Millisecond))
	if failed := s.FailedSources(); len(failed) > 0 {
		_, _ = fmt.Fprintf(out, "Failed: %v\n", failed)
	}
}

// formatStats writes store totals to out.
func formatStats(out io.Writer, st *model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total parishes:\t%d\n", st.TotalCount)
	_, _ = fmt.Fprintf(w, "With coordinates:\t%d\n", st.CountWithCoordinates)
	_, _ = fmt.Fprintf(w, "Organizations:\t%d\n", st.DistinctOrganizations)
	_, _ = fmt.Fprintf(w, "States:\t%d\n", st.DistinctRegions)
	_ = w.Flush()
}

// clip shortens s to n display columns for table output.
func clip(s string, n int) string {
	return runewidth.Truncate(s, n, "...")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatGeocodeStats(out io.Writer, s geocode.Stats, cached int) {
	_, _ = fmt.Fprintf(out, "Geocoder: %d lookups, %d cache hits, %d failures, %d addresses cached\n",
		s.Lookups, s.Hits, s.Failures, cached)
}
