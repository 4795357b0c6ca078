package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownResourceType is returned when no catalog exists for a resource type.
var ErrUnknownResourceType = errors.New("unknown resource type")

// Registry holds the current catalog for every resource type.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	catalogs map[string]Catalog
	version  uint64
}

// NewRegistry creates a registry containing the given catalogs.
// Returns an error if any catalog is invalid or registered twice.
func NewRegistry(catalogs ...Catalog) (*Registry, error) {
	r := &Registry{catalogs: make(map[string]Catalog)}
	if err := r.Replace(catalogs); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the catalog for a resource type.
func (r *Registry) Get(resourceType string) (Catalog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.catalogs[resourceType]
	if !ok {
		return Catalog{}, fmt.Errorf("%w: %s", ErrUnknownResourceType, resourceType)
	}
	return c, nil
}

// Has reports whether a catalog exists for the resource type.
func (r *Registry) Has(resourceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.catalogs[resourceType]
	return ok
}

// Types returns all registered resource types, sorted alphabetically.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.catalogs))
	for t := range r.catalogs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All returns every catalog sorted by resource type.
func (r *Registry) All() []Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Catalog, 0, len(r.catalogs))
	for _, c := range r.catalogs {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ResourceType < result[j].ResourceType
	})
	return result
}

// Replace swaps the whole table in one step. Either every catalog is
// valid and the new table becomes current, or nothing changes.
func (r *Registry) Replace(catalogs []Catalog) error {
	next := make(map[string]Catalog, len(catalogs))
	for _, c := range catalogs {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, exists := next[c.ResourceType]; exists {
			return fmt.Errorf("catalog already registered: %s", c.ResourceType)
		}
		next[c.ResourceType] = c.withDefaults()
	}

	r.mu.Lock()
	r.catalogs = next
	r.version++
	r.mu.Unlock()
	return nil
}

// Version increments on every successful Replace.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
