// Package monitoring evaluates recent ingest health from the run ledger and
// store aggregates, and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/massfinder/parish-ingest/internal/model"
)

// MetricsSnapshot holds a point-in-time view of ingest health.
type MetricsSnapshot struct {
	// Ledger metrics (within lookback window).
	SourcesTotal     int      `json:"sources_total"`
	SourcesSucceeded int      `json:"sources_succeeded"`
	SourcesFailed    int      `json:"sources_failed"`
	SourceFailRate   float64  `json:"source_fail_rate"`
	RecordsAccepted  int      `json:"records_accepted"`
	FailedSources    []string `json:"failed_sources,omitempty"`

	// Store aggregates.
	TotalRecords    int     `json:"total_records"`
	GeocodedRecords int     `json:"geocoded_records"`
	GeocodeCoverage float64 `json:"geocode_coverage"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// LedgerReader is the read side of the store the collector needs.
type LedgerReader interface {
	ListRunLog(ctx context.Context, filter model.RunLogFilter) ([]model.RunLedgerEntry, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// Collector gathers metrics from the run ledger and store.
type Collector struct {
	store LedgerReader
}

// NewCollector creates a new metrics collector.
func NewCollector(st LedgerReader) *Collector {
	return &Collector{store: st}
}

// ledgerScanLimit bounds how many ledger rows one collection reads.
const ledgerScanLimit = 10000

// Collect gathers a snapshot over the given lookback window. Each
// organization counts once, by its most recent entry in the window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.store.ListRunLog(ctx, model.RunLogFilter{Limit: ledgerScanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list run log")
	}

	// Entries arrive newest first.
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.OccurredAt.Before(cutoff) || seen[e.Organization] {
			continue
		}
		seen[e.Organization] = true
		snap.SourcesTotal++
		switch e.Status {
		case model.RunStatusSuccess:
			snap.SourcesSucceeded++
		case model.RunStatusFailed:
			snap.SourcesFailed++
			snap.FailedSources = append(snap.FailedSources, e.Organization)
		}
		snap.RecordsAccepted += e.RecordCount
	}
	if snap.SourcesTotal > 0 {
		snap.SourceFailRate = float64(snap.SourcesFailed) / float64(snap.SourcesTotal)
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.TotalRecords = stats.TotalCount
	snap.GeocodedRecords = stats.CountWithCoordinates
	if stats.TotalCount > 0 {
		snap.GeocodeCoverage = float64(stats.CountWithCoordinates) / float64(stats.TotalCount)
	}

	return snap, nil
}
