// Package resolver routes a DownloadRequest's URL to the Source
// implementation that can handle it.
package resolver

import (
	"fmt"
	"sync"

	"github.com/flowdl/flowdl/internal/source"
)

// Resolver holds an ordered registry of Sources, tried in registration
// order via CanHandle.
type Resolver struct {
	mu      sync.RWMutex
	sources []source.Source
}

// New builds an empty Resolver.
func New() *Resolver { return &Resolver{} }

// Register adds a Source to the registry. Later registrations are tried
// after earlier ones.
func (r *Resolver) Register(s source.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// ForURL returns the first registered Source whose CanHandle accepts url.
func (r *Resolver) ForURL(url string) (source.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.CanHandle(url) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("resolver: no source registered for %q", url)
}

// ForKind returns the registered Source with the given Kind(), used to
// reconstruct a Source from a persisted TaskRecord's sourceKind.
func (r *Resolver) ForKind(kind string) (source.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Kind() == kind {
			return s, nil
		}
	}
	return nil, fmt.Errorf("resolver: no source registered for kind %q", kind)
}
