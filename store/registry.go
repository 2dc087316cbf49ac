// Package store holds a registry of backend constructors,
// so that a backend can be chosen and configured at runtime,
// e.g. from a config file.
// The backends themselves live in subpackages of this one.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bobg/lineage"
)

// Factory constructs a backend from a configuration map.
// The map's contents are specific to each backend type.
type Factory func(context.Context, map[string]interface{}) (lineage.Backend, error)

// Registry maps backend type names to Factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry produces an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f to r under the given key,
// replacing any Factory previously registered there.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	r.factories[key] = f
	r.mu.Unlock()
}

// Create constructs a backend with the Factory registered under key.
func (r *Registry) Create(ctx context.Context, key string, conf map[string]interface{}) (lineage.Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
