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

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// CensusLookup geocodes US addresses through the Census one-line geocoder.
type CensusLookup struct {
	opts HTTPOptions
}

// NewCensus creates a Census lookup.
func NewCensus(opts HTTPOptions) *CensusLookup {
	return &CensusLookup{opts: opts.withDefaults(censusOneLineURL)}
}

// Name implements Lookup.
func (c *CensusLookup) Name() string { return "census" }

// Lookup implements Lookup.
func (c *CensusLookup) Lookup(ctx context.Context, fullAddress string) (*Location, error) {
	params := url.Values{
		"address":   {fullAddress},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: build request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("census", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "census: read body")
	}

	var censusResp censusOneLineResponse
	if err := json.Unmarshal(body, &censusResp); err != nil {
		return nil, eris.Wrap(err, "census: parse response")
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return nil, nil
	}

	match := censusResp.Result.AddressMatches[0]
	return &Location{
		Latitude:    match.Coordinates.Y,
		Longitude:   match.Coordinates.X,
		DisplayName: match.MatchedAddress,
	}, nil
}
