// Package metrics exposes ingest counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Record outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeSkipped  = "skipped"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Recorder receives ingest observations. A nil *Registry is a valid no-op
// Recorder.
type Recorder interface {
	RecordOutcome(organization, outcome string)
	SourceFinished(status string)
	GeocodeResult(result string)
	RunFinished(d time.Duration)
}

// Registry holds the ingest collectors on a private prometheus registry.
type Registry struct {
	reg         *prometheus.Registry
	records     *prometheus.CounterVec
	sources     *prometheus.CounterVec
	geocodes    *prometheus.CounterVec
	runDuration prometheus.Gauge
	lastRun     prometheus.Gauge
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parish_ingest",
			Name:      "records_total",
			Help:      "Candidates processed by organization and outcome",
		}, []string{"organization", "outcome"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parish_ingest",
			Name:      "sources_total",
			Help:      "Sources processed by ledger status",
		}, []string{"status"}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parish_ingest",
			Name:      "geocode_total",
			Help:      "Geocode resolutions by result",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parish_ingest",
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the most recent run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parish_ingest",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent run finished",
		}),
	}
	r.reg.MustRegister(r.records, r.sources, r.geocodes, r.runDuration, r.lastRun)
	return r
}

// Gatherer returns the underlying registry for HTTP exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RecordOutcome(organization, outcome string) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(organization, outcome).Inc()
}

func (r *Registry) SourceFinished(status string) {
	if r == nil {
		return
	}
	r.sources.WithLabelValues(status).Inc()
}

func (r *Registry) GeocodeResult(result string) {
	if r == nil {
		return
	}
	r.geocodes.WithLabelValues(result).Inc()
}

func (r *Registry) RunFinished(d time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.Set(d.Seconds())
	r.lastRun.SetToCurrentTime()
}

// WriteTextfile writes all metrics to path in the node-exporter textfile
// collector format. An empty path is a no-op.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, r.reg), "metrics: write textfile %s", path)
}
