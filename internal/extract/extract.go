// Package extract turns a source's published listing into raw parish
// candidates. Extractors are looked up by name from a Registry.
package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/massfinder/parish-ingest/internal/model"
)

// Extractor yields raw candidates for one source.
type Extractor interface {
	Name() string
	Scrape(ctx context.Context, src model.Source) ([]model.RawCandidate, error)
}

// Registry maps extractor names to their implementations.
type Registry struct {
	extractors map[string]Extractor
	order      []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
	}
}

// Register adds an extractor. Registering a name twice replaces the earlier
// extractor but keeps its position.
func (r *Registry) Register(e Extractor) {
	name := e.Name()
	if _, ok := r.extractors[name]; !ok {
		r.order = append(r.order, name)
	}
	r.extractors[name] = e
}

// Get returns an extractor by name.
func (r *Registry) Get(name string) (Extractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, eris.Errorf("extract: unknown extractor %q", name)
	}
	return e, nil
}

// All returns all extractors in registration order.
func (r *Registry) All() []Extractor {
	result := make([]Extractor, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.extractors[name])
	}
	return result
}

// Names returns all registered extractor names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Func adapts a function to the Extractor interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, src model.Source) ([]model.RawCandidate, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Scrape(ctx context.Context, src model.Source) ([]model.RawCandidate, error) {
	return f.Fn(ctx, src)
}
