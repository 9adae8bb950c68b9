// Package datasource holds the data adapters behind export definitions:
// a read-only SQL table adapter and a MongoDB collection adapter.
package datasource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// Registry maps data source names to adapters.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]domain.DataSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]domain.DataSource)}
}

// Register adds or replaces the adapter for name.
func (r *Registry) Register(name string, src domain.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = src
}

// Source returns the adapter registered under name.
func (r *Registry) Source(name string) (domain.DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter named %q", domain.ErrSourceUnavailable, name)
	}
	return src, nil
}

// Names lists registered adapters in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
