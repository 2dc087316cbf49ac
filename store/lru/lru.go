// Package lru implements a backend that acts as a least-recently-used cache for a nested backend.
package lru

import (
	"bytes"
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

// Backend implements a memory-based least-recently-used cache for a lineage.Backend.
// It caches only immutable things: objects and derivation records.
// Refs and similarity buckets pass straight through,
// as do all writes.
// Cached slices are copied going in and coming out,
// so callers may modify what they pass and receive.
type Backend struct {
	c *lru.Cache // cacheKey -> cached
	lineage.Backend
}

type (
	cacheKey struct {
		kind byte
		typ  lineage.ObjectType
		h    lineage.Hash
	}
	cached struct {
		content, metadata []byte
	}
)

const (
	kindObject byte = iota
	kindDerivation
)

// New produces a new Backend backed by b and caching up to size items.
func New(b lineage.Backend, size int) (*Backend, error) {
	c, err := lru.New(size)
	return &Backend{Backend: b, c: c}, err
}

// GetObject implements lineage.ObjectBackend.
func (b *Backend) GetObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	k := cacheKey{kind: kindObject, typ: typ, h: h}
	if got, ok := b.c.Get(k); ok {
		c := got.(cached)
		return bytes.Clone(c.content), bytes.Clone(c.metadata), nil
	}
	content, metadata, err := b.Backend.GetObject(ctx, typ, h)
	if err != nil {
		return nil, nil, err
	}
	b.c.Add(k, cached{content: bytes.Clone(content), metadata: bytes.Clone(metadata)})
	return content, metadata, nil
}

// GetMetadata implements lineage.ObjectBackend.
// It is served from a cached object if there is one,
// but a miss does not fill the cache.
func (b *Backend) GetMetadata(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	if got, ok := b.c.Get(cacheKey{kind: kindObject, typ: typ, h: h}); ok {
		return bytes.Clone(got.(cached).metadata), nil
	}
	return b.Backend.GetMetadata(ctx, typ, h)
}

// PutObject implements lineage.ObjectBackend.
// A newly added object goes into the cache.
func (b *Backend) PutObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	added, err := b.Backend.PutObject(ctx, typ, h, content, metadata)
	if err != nil {
		return false, err
	}
	if added {
		b.c.Add(cacheKey{kind: kindObject, typ: typ, h: h}, cached{content: bytes.Clone(content), metadata: bytes.Clone(metadata)})
	}
	return added, nil
}

// GetDerivation implements lineage.DerivationBackend.
func (b *Backend) GetDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	k := cacheKey{kind: kindDerivation, typ: typ, h: h}
	if got, ok := b.c.Get(k); ok {
		return bytes.Clone(got.(cached).content), nil
	}
	rec, err := b.Backend.GetDerivation(ctx, typ, h)
	if err != nil {
		return nil, err
	}
	b.c.Add(k, cached{content: bytes.Clone(rec)})
	return rec, nil
}

// Purge empties the cache.
func (b *Backend) Purge() {
	b.c.Purge()
}

// Register adds the "lru" backend type to r.
// Its config requires an integer "size"
// and a "nested" backend config with its own "type".
func Register(r *store.Registry) {
	r.Register("lru", func(ctx context.Context, conf map[string]interface{}) (lineage.Backend, error) {
		size, ok := toInt(conf["size"])
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedBackend, err := r.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested backend")
		}
		return New(nestedBackend, size)
	})
}

func toInt(v interface{}) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
