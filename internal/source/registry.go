// Package source keeps the set of marketplace adapters a deployment scrapes.
package source

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Registry maps sources to adapters and remembers registration order,
// which is the order results are concatenated in for "all" jobs.
type Registry struct {
	mu       sync.RWMutex
	order    []scraper.Source
	adapters map[scraper.Source]scraper.Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[scraper.Source]scraper.Adapter)}
}

// Register adds an adapter. Registering a source twice or registering "all" fails.
func (r *Registry) Register(adapter scraper.Adapter) error {
	src := adapter.Source()
	if src == "" || src == scraper.SourceAll {
		return fmt.Errorf("cannot register adapter for source %q", src)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[src]; exists {
		return fmt.Errorf("adapter for %s already registered", src)
	}
	r.adapters[src] = adapter
	r.order = append(r.order, src)
	return nil
}

// Resolve returns the adapters a job for src runs, in registration order.
func (r *Registry) Resolve(src scraper.Source) ([]scraper.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if src == scraper.SourceAll {
		if len(r.order) == 0 {
			return nil, fmt.Errorf("no adapters registered: %w", scraper.ErrUnknownSource)
		}
		out := make([]scraper.Adapter, 0, len(r.order))
		for _, s := range r.order {
			out = append(out, r.adapters[s])
		}
		return out, nil
	}
	adapter, ok := r.adapters[src]
	if !ok {
		return nil, fmt.Errorf("%q: %w", src, scraper.ErrUnknownSource)
	}
	return []scraper.Adapter{adapter}, nil
}

// Sources lists registered sources in registration order.
func (r *Registry) Sources() []scraper.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]scraper.Source(nil), r.order...)
}
