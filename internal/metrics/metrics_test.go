package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := New()
	r.RecordOutcome("Diocese of Lexington", OutcomeAccepted)
	r.RecordOutcome("Diocese of Lexington", OutcomeAccepted)
	r.RecordOutcome("Diocese of Lexington", OutcomeSkipped)
	r.SourceFinished("success")
	r.SourceFinished("failed")
	r.GeocodeResult("hit")

	assert.InDelta(t, 2, testutil.ToFloat64(r.records.WithLabelValues("Diocese of Lexington", OutcomeAccepted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.records.WithLabelValues("Diocese of Lexington", OutcomeSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.sources.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.geocodes.WithLabelValues("hit")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(r.records))
}

func TestRegistry_RunFinished(t *testing.T) {
	r := New()
	r.RunFinished(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, testutil.ToFloat64(r.runDuration), 1e-9)
	assert.Greater(t, testutil.ToFloat64(r.lastRun), 0.0)
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordOutcome("x", OutcomeFailed)
		r.SourceFinished("failed")
		r.GeocodeResult("failed")
		r.RunFinished(time.Second)
	})
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestRegistry_WriteTextfile(t *testing.T) {
	r := New()
	r.SourceFinished("success")

	path := filepath.Join(t.TempDir(), "parish_ingest.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `parish_ingest_sources_total{status="success"} 1`))

	assert.NoError(t, r.WriteTextfile(""), "empty path disables output")
}

func TestRegistry_Gatherer(t *testing.T) {
	r := New()
	r.GeocodeResult("resolved")
	n, err := testutil.GatherAndCount(r.Gatherer(), "parish_ingest_geocode_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
