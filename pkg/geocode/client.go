// Package geocode resolves street addresses to coordinates through an
// external geocoding service, with an in-process cache, retry of transient
// failures, and a courtesy delay between requests.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Lookup is one external geocoding backend.
//
// Lookup returns (location, nil) on a match, (nil, nil) when the service
// definitively found nothing, and an error otherwise. Errors that are safe
// to retry are marked with resilience.TransientError or are network
// timeouts.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, fullAddress string) (*Location, error)
}

// Location is a service response for a matched address.
type Location struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l *Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Query is the address to resolve. Empty fields are omitted.
type Query struct {
	Street     string
	City       string
	State      string
	PostalCode string
}

// Coordinate is a resolved latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FormatOneLine joins the non-empty address parts with ", ".
func FormatOneLine(q Query) string {
	parts := []string{q.Street, q.City, q.State, q.PostalCode}
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// HTTPOptions configures an HTTP-backed Lookup.
type HTTPOptions struct {
	BaseURL    string
	UserAgent  string
	APIKey     string
	HTTPClient *http.Client
}

const defaultUserAgent = "ParishIngest/1.0"

func (o HTTPOptions) withDefaults(baseURL string) HTTPOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}
