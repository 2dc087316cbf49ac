// Package pattern turns raw content into the structural hint used by the hashing package.
//
// A Pattern knows how to parse one format.
// Patterns are looked up by object type in a Registry,
// which is an ordinary value passed to whatever needs it.
package pattern

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/hashing"
)

// Pattern extracts structure from content of some format.
type Pattern interface {
	Name() string

	// Structure describes content.
	// It returns an error if content is not in the pattern's format.
	Structure(content []byte) (*hashing.Structure, error)
}

// Registry maps object types to patterns.
// The zero Registry is not usable; use NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	patterns map[lineage.ObjectType]Pattern
}

// NewRegistry produces an empty Registry.
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[lineage.ObjectType]Pattern)}
}

// Register associates p with objects of type typ,
// replacing any previous association.
func (r *Registry) Register(typ lineage.ObjectType, p Pattern) {
	r.mu.Lock()
	r.patterns[typ] = p
	r.mu.Unlock()
}

// Lookup returns the pattern registered for typ, if any.
func (r *Registry) Lookup(typ lineage.ObjectType) (Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[typ]
	return p, ok
}

// Structure describes content using the pattern registered for typ.
// It returns nil and no error when no pattern is registered.
func (r *Registry) Structure(typ lineage.ObjectType, content []byte) (*hashing.Structure, error) {
	if r == nil {
		return nil, nil
	}
	p, ok := r.Lookup(typ)
	if !ok {
		return nil, nil
	}
	s, err := p.Structure(content)
	return s, errors.Wrapf(err, "applying pattern %s to %s content", p.Name(), typ)
}
