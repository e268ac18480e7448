package provider

import (
	"fmt"
	"sync"

	"github.com/quantloop/refreshengine/internal/domain"
)

// Registry maps a provider name to its Client and exposes capability
// lookups, grounded on the teacher's internal/work registry pattern of a
// name-keyed map guarded by a RWMutex.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Client)}
}

// Register adds or replaces a provider by name.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[c.Name()] = c
}

// Get returns the named provider, or false if unknown.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[name]
	return c, ok
}

// SupportsCapability reports whether the named provider declares support
// for dataType.
func (r *Registry) SupportsCapability(name string, dataType domain.DataType) bool {
	c, ok := r.Get(name)
	if !ok {
		return false
	}
	return c.Capabilities()[dataType]
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

// errUnknownProvider formats the error for a provider name that is not
// registered. Get itself reports a miss through its bool result.
func errUnknownProvider(name string) error {
	return fmt.Errorf("provider %q is not registered", name)
}
