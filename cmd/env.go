package main

import (
	"github.com/rotisserie/eris"

	"github.com/massfinder/parish-ingest/internal/config"
	"github.com/massfinder/parish-ingest/internal/extract"
	"github.com/massfinder/parish-ingest/internal/fetcher"
	"github.com/massfinder/parish-ingest/internal/metrics"
	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/sources"
	"github.com/massfinder/parish-ingest/internal/store"
	"github.com/massfinder/parish-ingest/pkg/geocode"
)

func storeConfig(c *config.Config) store.Config {
	return store.Config{
		Driver:      c.Store.Driver,
		DatabaseURL: c.Store.DatabaseURL,
		Pool: store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		},
	}
}

func openStore(c *config.Config) store.Opener {
	return store.OpenerFor(storeConfig(c))
}

// newLookup builds the geocoding backend named by the provider. Google
// falls back to Nominatim when it finds nothing.
func newLookup(gc config.GeocodeConfig) (geocode.Lookup, error) {
	opts := geocode.HTTPOptions{
		BaseURL:   gc.BaseURL,
		UserAgent: gc.UserAgent,
		APIKey:    gc.GoogleAPIKey,
	}
	switch gc.Provider {
	case "", "nominatim":
		return geocode.NewNominatim(opts), nil
	case "census":
		return geocode.NewCensus(opts), nil
	case "google":
		g, err := geocode.NewGoogle(opts)
		if err != nil {
			return nil, err
		}
		return geocode.NewCascade(g, geocode.NewNominatim(geocode.HTTPOptions{UserAgent: gc.UserAgent})), nil
	default:
		return nil, eris.Errorf("unsupported geocode provider %q", gc.Provider)
	}
}

func newResolver(gc config.GeocodeConfig, rec *metrics.Registry) (*geocode.Resolver, error) {
	lookup, err := newLookup(gc)
	if err != nil {
		return nil, err
	}
	return geocode.NewResolver(lookup,
		geocode.WithMaxRetries(gc.MaxRetries),
		geocode.WithRetryBackoff(gc.RetryBackoff),
		geocode.WithRequestDelay(gc.RequestDelay),
		geocode.WithRequestTimeout(gc.RequestTimeout),
		geocode.WithValidateState(gc.ValidateState),
		geocode.WithObserver(rec.GeocodeResult),
	), nil
}

func newFetcher(fc config.FetchConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     fc.UserAgent,
		Timeout:       fc.Timeout,
		MaxRetries:    fc.MaxRetries,
		CourtesyDelay: fc.CourtesyDelay,
	})
}

// siteAliases are per-site extractor ids that use the generic listing
// heuristics.
var siteAliases = []string{"lexington"}

// newRegistry registers the bundled extractors.
func newRegistry(f fetcher.Fetcher) *extract.Registry {
	reg := extract.NewRegistry()
	html := extract.NewHTMLExtractor(f)
	reg.Register(html)
	for _, alias := range siteAliases {
		reg.Register(html.Named(alias))
	}
	reg.Register(extract.NewSeedExtractor(f))
	return reg
}

// loadSources reads the source list (flag path, then config, then the
// built-in list) and narrows it to names.
func loadSources(c *config.Config, path string, names []string) ([]model.Source, error) {
	if path == "" {
		path = c.Sources.Path
	}
	list, err := sources.Load(path)
	if err != nil {
		return nil, err
	}
	return sources.Select(list, names)
}
