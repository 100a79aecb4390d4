package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when resolving an identifier no adapter
// was registered under.
var ErrNotRegistered = errors.New("source not registered")

// Registry resolves adapters by shop identifier. Registration is
// explicit and happens once at startup; there is no discovery.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its shop identifier. Registering the
// same identifier twice is a wiring mistake and fails loudly.
func (r *Registry) Register(a Adapter) error {
	id := a.ShopIdentifier()
	if id == "" {
		return errors.New("adapter has an empty shop identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("source %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

// Resolve returns the adapter registered under id.
func (r *Registry) Resolve(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	return a, nil
}

// IDs lists registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every registered adapter, ordered by identifier.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	adapters := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		adapters = append(adapters, r.adapters[id])
	}
	return adapters
}
