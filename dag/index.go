package dag

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/objstore"
)

// Index holds the adjacency and capability indexes of the derivation graph.
// Implementations must make Add idempotent:
// the first derivation added for an object hash wins.
type Index interface {
	// Add records d's edges and capabilities.
	Add(ctx context.Context, d *lineage.Derivation) error

	// Parents returns the parents of h in derivation order.
	// The boolean result is false if h has no derivation,
	// i.e. it is a root.
	Parents(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.ParentRef, bool, error)

	// Children returns the objects derived directly from h,
	// in order by hash.
	Children(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.Hash, error)

	// ByCapability returns the objects whose derivations declare capability,
	// in order by hash.
	ByCapability(ctx context.Context, typ lineage.ObjectType, capability string) ([]lineage.Hash, error)
}

// MemIndex is an in-memory Index.
// It is safe for concurrent use.
type MemIndex struct {
	mu    sync.RWMutex
	types map[lineage.ObjectType]*memTypeIndex
}

type memTypeIndex struct {
	parents  map[lineage.Hash][]lineage.ParentRef
	children map[lineage.Hash][]lineage.Hash
	caps     map[string][]lineage.Hash
}

var _ Index = &MemIndex{}

// NewMemIndex produces a new, empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{types: make(map[lineage.ObjectType]*memTypeIndex)}
}

// Load builds a MemIndex eagerly from every Derivation record of type typ in s.
func Load(ctx context.Context, s *objstore.Store, typ lineage.ObjectType) (*MemIndex, error) {
	x := NewMemIndex()
	_, err := Rebuild(ctx, s, x, typ)
	return x, err
}

// Rebuild adds every Derivation record of type typ in s to x.
// It returns the number of records visited.
// Since Add is idempotent,
// Rebuild can repair a persistent index that missed some records.
func Rebuild(ctx context.Context, s *objstore.Store, x Index, typ lineage.ObjectType) (int, error) {
	var n int
	err := s.ListDerivations(ctx, typ, func(d *lineage.Derivation) error {
		n++
		return x.Add(ctx, d)
	})
	return n, errors.Wrapf(err, "indexing derivations of type %s", typ)
}

// Add implements Index.Add.
func (x *MemIndex) Add(_ context.Context, d *lineage.Derivation) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	t, ok := x.types[d.ObjectType]
	if !ok {
		t = &memTypeIndex{
			parents:  make(map[lineage.Hash][]lineage.ParentRef),
			children: make(map[lineage.Hash][]lineage.Hash),
			caps:     make(map[string][]lineage.Hash),
		}
		x.types[d.ObjectType] = t
	}

	if _, ok := t.parents[d.ObjectHash]; ok {
		return nil
	}
	parents := make([]lineage.ParentRef, len(d.Parents))
	copy(parents, d.Parents)
	t.parents[d.ObjectHash] = parents

	for _, p := range d.Parents {
		t.children[p.Hash] = insertHash(t.children[p.Hash], d.ObjectHash)
	}
	for _, c := range d.Semantic.Capabilities {
		t.caps[c] = insertHash(t.caps[c], d.ObjectHash)
	}
	return nil
}

// insertHash adds h to the sorted slice hashes if it is not already there.
func insertHash(hashes []lineage.Hash, h lineage.Hash) []lineage.Hash {
	i := sort.Search(len(hashes), func(i int) bool { return !hashes[i].Less(h) })
	if i < len(hashes) && hashes[i] == h {
		return hashes
	}
	hashes = append(hashes, lineage.Zero)
	copy(hashes[i+1:], hashes[i:])
	hashes[i] = h
	return hashes
}

// Parents implements Index.Parents.
func (x *MemIndex) Parents(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.ParentRef, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.types[typ]
	if !ok {
		return nil, false, nil
	}
	parents, ok := t.parents[h]
	if !ok {
		return nil, false, nil
	}
	out := make([]lineage.ParentRef, len(parents))
	copy(out, parents)
	return out, true, nil
}

// Children implements Index.Children.
func (x *MemIndex) Children(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.Hash, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.types[typ]
	if !ok {
		return nil, nil
	}
	return append([]lineage.Hash(nil), t.children[h]...), nil
}

// ByCapability implements Index.ByCapability.
func (x *MemIndex) ByCapability(_ context.Context, typ lineage.ObjectType, capability string) ([]lineage.Hash, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	t, ok := x.types[typ]
	if !ok {
		return nil, nil
	}
	return append([]lineage.Hash(nil), t.caps[capability]...), nil
}
