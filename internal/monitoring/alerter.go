package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/config"
	"github.com/massfinder/parish-ingest/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceFailureRate AlertType = "source_failure_rate"
	AlertGeocodeCoverage   AlertType = "geocode_coverage"
)

// minSourcesForRate is the number of sources needed before a failure rate
// is meaningful.
const minSourcesForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.FixedRetry(2, 500*time.Millisecond)
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.SourcesTotal >= minSourcesForRate && snap.SourceFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSourceFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Source failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d sources in last %dh): %s",
				snap.SourceFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SourcesFailed, snap.SourcesTotal, snap.LookbackHours,
				strings.Join(snap.FailedSources, ", "),
			),
			Details: map[string]any{
				"failure_rate":   snap.SourceFailRate,
				"threshold":      a.cfg.FailureRateThreshold,
				"failed":         snap.SourcesFailed,
				"sources":        snap.SourcesTotal,
				"failed_sources": snap.FailedSources,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinGeocodeCoverage > 0 && snap.TotalRecords > 0 && snap.GeocodeCoverage < a.cfg.MinGeocodeCoverage {
		alerts = append(alerts, Alert{
			Type:     AlertGeocodeCoverage,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Geocode coverage %.1f%% is below %.1f%% (%d of %d records have coordinates)",
				snap.GeocodeCoverage*100, a.cfg.MinGeocodeCoverage*100,
				snap.GeocodedRecords, snap.TotalRecords,
			),
			Details: map[string]any{
				"coverage": snap.GeocodeCoverage,
				"minimum":  a.cfg.MinGeocodeCoverage,
				"geocoded": snap.GeocodedRecords,
				"total":    snap.TotalRecords,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying once on a
// transient failure.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			return resilience.StatusError("monitoring: webhook", resp.StatusCode)
		}
		return nil
	})
}
