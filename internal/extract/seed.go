package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/massfinder/parish-ingest/internal/fetcher"
	"github.com/massfinder/parish-ingest/internal/model"
)

// SeedName is the registry name of the seed-file extractor.
const SeedName = "seed"

// SeedExtractor reads hand-curated candidates from a YAML, JSON, CSV or
// XLSX file named by the source endpoint. Rows that name a different
// organization are ignored, so one file can seed several sources.
type SeedExtractor struct {
	fetcher fetcher.Fetcher
}

// NewSeedExtractor creates a SeedExtractor. YAML and JSON files are read
// through f, so remote seed files work too.
func NewSeedExtractor(f fetcher.Fetcher) *SeedExtractor {
	return &SeedExtractor{fetcher: f}
}

func (s *SeedExtractor) Name() string { return SeedName }

// Scrape loads every row of the seed file that belongs to src.
func (s *SeedExtractor) Scrape(ctx context.Context, src model.Source) ([]model.RawCandidate, error) {
	if strings.TrimSpace(src.Endpoint) == "" {
		return nil, eris.Errorf("extract: seed source %q has no endpoint", src.Name)
	}

	rows, err := s.readRows(ctx, src.Endpoint)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawCandidate, 0, len(rows))
	for _, row := range rows {
		if org := firstOf(row, "organization", "diocese"); org != "" && org != src.Name {
			continue
		}
		out = append(out, candidateFromRow(row, src.Endpoint))
	}
	return out, nil
}

func (s *SeedExtractor) readRows(ctx context.Context, location string) ([]map[string]string, error) {
	switch ext := strings.ToLower(filepath.Ext(fetcher.LocalPath(location))); ext {
	case ".yaml", ".yml":
		body, err := s.fetcher.Fetch(ctx, location)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read seed %s", location)
		}
		return decodeYAMLRows(body)
	case ".json":
		body, err := s.fetcher.Open(ctx, location)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read seed %s", location)
		}
		defer body.Close() //nolint:errcheck
		return decodeJSONRows(ctx, body)
	case ".csv", ".xlsx":
		rows, err := fetcher.ReadTable(ctx, location)
		return rows, eris.Wrapf(err, "extract: read seed %s", location)
	default:
		return nil, eris.Errorf("extract: unsupported seed format %q", ext)
	}
}

// seedFile is the YAML document shape: either a bare list or a mapping
// with a parishes key.
type seedFile struct {
	Parishes []map[string]any `yaml:"parishes"`
}

func decodeYAMLRows(body []byte) ([]map[string]string, error) {
	var list []map[string]any
	if err := yaml.Unmarshal(body, &list); err != nil {
		var doc seedFile
		if derr := yaml.Unmarshal(body, &doc); derr != nil {
			return nil, eris.Wrap(err, "extract: decode seed yaml")
		}
		list = doc.Parishes
	}
	return stringifyRows(list), nil
}

func decodeJSONRows(ctx context.Context, r io.Reader) ([]map[string]string, error) {
	itemCh, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, r)
	var list []map[string]any
	for item := range itemCh {
		list = append(list, item)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "extract: decode seed json")
	}
	return stringifyRows(list), nil
}

func stringifyRows(list []map[string]any) []map[string]string {
	out := make([]map[string]string, 0, len(list))
	for _, item := range list {
		row := make(map[string]string, len(item))
		for k, v := range item {
			row[strings.ToLower(strings.TrimSpace(k))] = stringify(v)
		}
		out = append(out, row)
	}
	return out
}

// stringify renders scalar values as text and structured values (such as
// a mass schedule keyed by day) as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; keep unquoted phones and ZIPs whole.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func candidateFromRow(row map[string]string, location string) model.RawCandidate {
	cand := model.RawCandidate{
		Name:       firstOf(row, "name"),
		City:       model.StringPtr(firstOf(row, "city")),
		State:      model.StringPtr(firstOf(row, "state")),
		PostalCode: model.StringPtr(firstOf(row, "postal_code", "zip", "zip_code")),
		Phone:      model.StringPtr(firstOf(row, "phone")),
		Email:      model.StringPtr(firstOf(row, "email")),
		Website:    model.StringPtr(firstOf(row, "website", "url")),
		MassTimes:  model.StringPtr(firstOf(row, "mass_times", "schedule", "schedule_blob")),
		SourceURL:  model.StringPtr(firstOf(row, "source_url")),
	}
	if cand.SourceURL == nil {
		cand.SourceURL = model.StringPtr(location)
	}

	addr := firstOf(row, "address")
	if addr == "" {
		addr = composeAddress(firstOf(row, "street"), row)
	}
	cand.Address = model.StringPtr(addr)
	return cand
}

// composeAddress builds "street, city, ST zip" from split columns. It
// returns "" without a street.
func composeAddress(street string, row map[string]string) string {
	if street == "" {
		return ""
	}
	parts := []string{street}
	if city := firstOf(row, "city"); city != "" {
		parts = append(parts, city)
	}
	tail := strings.TrimSpace(firstOf(row, "state") + " " + firstOf(row, "postal_code", "zip", "zip_code"))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(row[k]); v != "" {
			return v
		}
	}
	return ""
}
