package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/massfinder/parish-ingest/internal/config"
)

// testConfig returns a config pointing at a fresh SQLite file with
// geocoding delays disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "parishes.db"),
		},
		Geocode: config.GeocodeConfig{
			Provider:       "nominatim",
			MaxRetries:     1,
			RequestTimeout: 2 * time.Second,
			ValidateState:  true,
		},
		Fetch: config.FetchConfig{
			Timeout:    2 * time.Second,
			MaxRetries: 1,
		},
		Monitoring: config.MonitoringConfig{FailureRateThreshold: 0.5},
		Server:     config.ServerConfig{Port: 8080},
	}
}

const seedYAML = `
- name: Cathedral of Christ the King
  organization: Diocese of Test
  street: 299 Colony Blvd
  city: Lexington
  state: KY
  zip: "40502"
  phone: (859) 268-2861
- name: St. Paul
  organization: Diocese of Test
  address: 501 W Short St, Lexington, KY 40507
- name: "   "
  organization: Diocese of Test
- name: Other Diocese Parish
  organization: Diocese of Elsewhere
`

// writeSources writes a seed file and a source list naming it, plus a
// source with no registered extractor.
func writeSources(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o644))

	list := `sources:
  - name: Diocese of Test
    region: KY
    endpoint: ` + seed + `
    extractor: seed
  - name: Diocese of Nowhere
    region: KY
    endpoint: https://nowhere.invalid/parishes
    extractor: generic
`
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(list), 0o644))
	return path
}
