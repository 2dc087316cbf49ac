// Package mem implements an in-memory backend.
package mem

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

type (
	objKey struct {
		typ lineage.ObjectType
		h   lineage.Hash
	}
	nameKey struct {
		typ  lineage.ObjectType
		name string
	}
	object struct {
		content, metadata []byte
	}
)

// Backend is a memory-based implementation of lineage.Backend.
type Backend struct {
	mu          sync.Mutex
	objects     map[objKey]object
	buckets     map[nameKey][]byte
	refs        map[nameKey]lineage.Hash
	derivations map[objKey][]byte
}

// New produces a new Backend.
func New() *Backend {
	return &Backend{
		objects:     make(map[objKey]object),
		buckets:     make(map[nameKey][]byte),
		refs:        make(map[nameKey]lineage.Hash),
		derivations: make(map[objKey][]byte),
	}
}

// PutObject implements lineage.ObjectBackend.
func (b *Backend) PutObject(_ context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := objKey{typ: typ, h: h}
	if _, ok := b.objects[k]; ok {
		return false, nil
	}
	b.objects[k] = object{content: clone(content), metadata: clone(metadata)}
	return true, nil
}

// GetObject implements lineage.ObjectBackend.
func (b *Backend) GetObject(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[objKey{typ: typ, h: h}]
	if !ok {
		return nil, nil, lineage.ErrNotFound
	}
	return clone(obj.content), clone(obj.metadata), nil
}

// GetMetadata implements lineage.ObjectBackend.
func (b *Backend) GetMetadata(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[objKey{typ: typ, h: h}]
	if !ok {
		return nil, lineage.ErrNotFound
	}
	return clone(obj.metadata), nil
}

// ListObjects implements lineage.ObjectBackend.
func (b *Backend) ListObjects(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	b.mu.Lock()
	var hashes []lineage.Hash
	for k := range b.objects {
		if k.typ == typ {
			hashes = append(hashes, k.h)
		}
	}
	b.mu.Unlock()

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	for _, h := range hashes {
		if err := f(h); err != nil {
			return err
		}
	}
	return nil
}

// GetBucket implements lineage.BucketBackend.
func (b *Backend) GetBucket(_ context.Context, typ lineage.ObjectType, bucket string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.buckets[nameKey{typ: typ, name: bucket}]
	if !ok {
		return nil, lineage.ErrNotFound
	}
	return clone(data), nil
}

// UpdateBucket implements lineage.BucketBackend.
// The mutex is held while f runs.
func (b *Backend) UpdateBucket(_ context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := nameKey{typ: typ, name: bucket}
	updated, err := f(clone(b.buckets[k]))
	if err != nil {
		return err
	}
	b.buckets[k] = clone(updated)
	return nil
}

// PutRef implements lineage.RefBackend.
func (b *Backend) PutRef(_ context.Context, typ lineage.ObjectType, name string, h lineage.Hash) error {
	b.mu.Lock()
	b.refs[nameKey{typ: typ, name: name}] = h
	b.mu.Unlock()
	return nil
}

// GetRef implements lineage.RefBackend.
func (b *Backend) GetRef(_ context.Context, typ lineage.ObjectType, name string) (lineage.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.refs[nameKey{typ: typ, name: name}]
	if !ok {
		return lineage.Zero, lineage.ErrNotFound
	}
	return h, nil
}

// ListRefs implements lineage.RefBackend.
func (b *Backend) ListRefs(_ context.Context, typ lineage.ObjectType, f func(string, lineage.Hash) error) error {
	type pair struct {
		name string
		h    lineage.Hash
	}

	b.mu.Lock()
	var pairs []pair
	for k, h := range b.refs {
		if k.typ == typ {
			pairs = append(pairs, pair{name: k.name, h: h})
		}
	}
	b.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })
	for _, p := range pairs {
		if err := f(p.name, p.h); err != nil {
			return err
		}
	}
	return nil
}

// PutDerivation implements lineage.DerivationBackend.
func (b *Backend) PutDerivation(_ context.Context, typ lineage.ObjectType, h lineage.Hash, rec []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := objKey{typ: typ, h: h}
	if _, ok := b.derivations[k]; ok {
		return false, nil
	}
	b.derivations[k] = clone(rec)
	return true, nil
}

// GetDerivation implements lineage.DerivationBackend.
func (b *Backend) GetDerivation(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.derivations[objKey{typ: typ, h: h}]
	if !ok {
		return nil, lineage.ErrNotFound
	}
	return clone(rec), nil
}

// ListDerivations implements lineage.DerivationBackend.
func (b *Backend) ListDerivations(_ context.Context, typ lineage.ObjectType, f func(lineage.Hash, []byte) error) error {
	b.mu.Lock()
	var hashes []lineage.Hash
	for k := range b.derivations {
		if k.typ == typ {
			hashes = append(hashes, k.h)
		}
	}
	b.mu.Unlock()

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	for _, h := range hashes {
		b.mu.Lock()
		rec := clone(b.derivations[objKey{typ: typ, h: h}])
		b.mu.Unlock()
		if err := f(h, rec); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject removes an object.
// Nothing in the store itself deletes objects;
// this exists to simulate loss of directly stored content.
func (b *Backend) DeleteObject(typ lineage.ObjectType, h lineage.Hash) {
	b.mu.Lock()
	delete(b.objects, objKey{typ: typ, h: h})
	b.mu.Unlock()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// Register adds the "mem" backend type to r.
func Register(r *store.Registry) {
	r.Register("mem", func(context.Context, map[string]interface{}) (lineage.Backend, error) {
		return New(), nil
	})
}
