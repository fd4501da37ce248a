package sources

import (
	"fmt"
	"slices"
	"sync"

	"github.com/poiesic/civicrag/core"
)

// Registry maps source types to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[core.SourceType]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[core.SourceType]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds an adapter, replacing any adapter already registered for its type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for typ.
func (r *Registry) Get(typ core.SourceType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, typ)
	}
	return a, nil
}

// Types returns the registered types in the order of core.SourceTypes.
func (r *Registry) Types() []core.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]core.SourceType, 0, len(r.adapters))
	for _, t := range core.SourceTypes {
		if _, ok := r.adapters[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Select returns the registered types in filter, or every registered type
// when filter is empty. An unregistered type in filter is an error.
func (r *Registry) Select(filter []core.SourceType) ([]core.SourceType, error) {
	registered := r.Types()
	if len(filter) == 0 {
		return registered, nil
	}
	selected := make([]core.SourceType, 0, len(filter))
	for _, t := range filter {
		if !slices.Contains(registered, t) {
			return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, t)
		}
		if !slices.Contains(selected, t) {
			selected = append(selected, t)
		}
	}
	return selected, nil
}
