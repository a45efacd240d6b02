// Package sources loads the list of organizations to ingest.
package sources

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/massfinder/parish-ingest/internal/model"
)

//go:embed sources.yaml
var defaultSources []byte

type file struct {
	Sources []model.Source `yaml:"sources"`
}

// Default returns the built-in source list.
func Default() ([]model.Source, error) {
	return Parse(defaultSources)
}

// Load reads a source list from path. An empty path returns Default.
func Load(path string) ([]model.Source, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sources: read %s", path)
	}
	list, err := Parse(data)
	return list, eris.Wrapf(err, "sources: load %s", path)
}

// Parse decodes and validates a YAML source list.
func Parse(data []byte) ([]model.Source, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "sources: decode yaml")
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, eris.Errorf("sources: entry %d has no name", i+1)
		}
		if seen[s.Name] {
			return nil, eris.Errorf("sources: duplicate source %q", s.Name)
		}
		seen[s.Name] = true
		s.Country = s.CountryOrDefault()
	}
	return f.Sources, nil
}

// Select returns the sources named in names, in list order. An empty names
// slice selects everything. Unknown names are an error.
func Select(list []model.Source, names []string) ([]model.Source, error) {
	if len(names) == 0 {
		return list, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}

	var out []model.Source
	for _, s := range list {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range names {
			if want[strings.TrimSpace(n)] {
				missing = append(missing, strings.TrimSpace(n))
			}
		}
		return nil, eris.Errorf("sources: unknown source(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
