// Package telemetry reports failed sources to Sentry. It is a no-op until
// Init is called with a DSN.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"

	"github.com/massfinder/parish-ingest/internal/config"
)

var enabled atomic.Bool

// Init configures the Sentry client. It returns false when no DSN is set.
// A non-nil transport replaces the HTTP transport.
func Init(cfg config.TelemetryConfig, release string, transport sentry.Transport) (bool, error) {
	if cfg.SentryDSN == "" && transport == nil {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Transport:        transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      cfg.Environment,
		Release:          release,
		// Keep the host name out of events.
		ServerName: "",
	})
	if err != nil {
		return false, eris.Wrap(err, "telemetry: init sentry")
	}
	enabled.Store(true)
	return true, nil
}

// Enabled reports whether Init configured a client.
func Enabled() bool { return enabled.Load() }

// SourceFailed reports a source whose run ended in a failed ledger entry.
func SourceFailed(runID, organization, message string) {
	if !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "ingest")
		scope.SetTag("organization", organization)
		scope.SetTag("run_id", runID)
		scope.SetLevel(sentry.LevelWarning)
		sentry.CaptureMessage("source failed: " + message)
	})
}

// Error reports a top-level command error.
func Error(command string, err error) {
	if !Enabled() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("command", command)
		sentry.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be delivered.
func Flush(timeout time.Duration) {
	if Enabled() {
		sentry.Flush(timeout)
	}
}
