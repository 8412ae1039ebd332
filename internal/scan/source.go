package scan

import (
	"context"
	"fmt"

	"fundscan/internal/domain"
)

// Source is a pluggable producer of normalized content items from one
// external origin. Fetch returns a finite, possibly empty slice; zero items
// is success, not an error.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.NormalizedItem, error)
}

// SourceTraits carries per-source processing hints the orchestrator honours.
type SourceTraits struct {
	// HeadlineOnly marks sources whose items carry short, headline-level text;
	// the orchestrator applies a lower extraction-confidence threshold to them.
	HeadlineOnly bool
}

// Registry maps source names to implementations. Built explicitly at startup;
// no reflection, no dynamic discovery.
type Registry struct {
	order   []string
	sources map[string]Source
	traits  map[string]SourceTraits
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: map[string]Source{},
		traits:  map[string]SourceTraits{},
	}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(src Source, traits SourceTraits) {
	name := src.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = src
	r.traits[name] = traits
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Source, error) {
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("source %s is not registered", name)
}

// All returns the registered sources in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Traits returns the processing hints registered for a source.
func (r *Registry) Traits(name string) SourceTraits {
	return r.traits[name]
}

// Len reports how many sources are registered.
func (r *Registry) Len() int { return len(r.sources) }
