package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/massfinder/parish-ingest/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleLookup geocodes through the Google Geocoding API.
type GoogleLookup struct {
	opts HTTPOptions
}

// NewGoogle creates a Google lookup. opts.APIKey is required.
func NewGoogle(opts HTTPOptions) (*GoogleLookup, error) {
	if opts.APIKey == "" {
		return nil, eris.New("google: api key not configured")
	}
	return &GoogleLookup{opts: opts.withDefaults(googleGeocodeURL)}, nil
}

// Name implements Lookup.
func (g *GoogleLookup) Name() string { return "google" }

// Lookup implements Lookup.
func (g *GoogleLookup) Lookup(ctx context.Context, fullAddress string) (*Location, error) {
	params := url.Values{
		"address": {fullAddress},
		"key":     {g.opts.APIKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: build request")
	}

	resp, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("google", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "google: parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.Errorf("google: status %s", googleResp.Status), 0)
	default:
		return nil, eris.Errorf("google: status %s", googleResp.Status)
	}
	if len(googleResp.Results) == 0 {
		return nil, nil
	}

	result := googleResp.Results[0]
	return &Location{
		Latitude:    result.Geometry.Location.Lat,
		Longitude:   result.Geometry.Location.Lng,
		DisplayName: result.FormattedAddress,
	}, nil
}
