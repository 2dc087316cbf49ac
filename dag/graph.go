// Package dag navigates the graph that derivations form over object hashes.
//
// Edges run from each parent to the object derived from it.
// An object with no Derivation record is a root.
// The graph is acyclic: the derivation engine refuses to record a derivation
// that would make an object its own ancestor.
//
// Navigation goes through an Index,
// which is built eagerly (see Load and Rebuild)
// and kept current by the derivation engine.
package dag

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/simindex"
)

// TieBreak selects among several common ancestors of two objects.
type TieBreak int

const (
	// ShortestPath prefers the common ancestor with the smallest combined distance
	// from the two objects,
	// then the earliest timestamp.
	ShortestPath TieBreak = iota

	// EarliestTimestamp prefers the oldest common ancestor,
	// then the smallest combined distance.
	EarliestTimestamp
)

// Graph is the derivation graph of one object type.
type Graph struct {
	s        *objstore.Store
	x        Index
	typ      lineage.ObjectType
	tieBreak TieBreak
}

// Option configures a Graph.
type Option func(*Graph)

// WithTieBreak sets the rule CommonAncestor uses to choose among candidates.
func WithTieBreak(tb TieBreak) Option {
	return func(g *Graph) { g.tieBreak = tb }
}

// New produces a Graph of objects of type typ in s, navigated via x.
func New(s *objstore.Store, x Index, typ lineage.ObjectType, opts ...Option) *Graph {
	g := &Graph{s: s, x: x, typ: typ}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Type is the object type of g.
func (g *Graph) Type() lineage.ObjectType {
	return g.typ
}

// Index is the Index beneath g.
func (g *Graph) Index() Index {
	return g.x
}

// Parents returns h's parents,
// and false if h is a root.
func (g *Graph) Parents(ctx context.Context, h lineage.Hash) ([]lineage.ParentRef, bool, error) {
	return g.x.Parents(ctx, g.typ, h)
}

// Ancestors returns the transitive parents of h in breadth-first order.
// If maxDepth is positive, the search stops that many generations back.
// Reaching a root ends a branch of the search without error.
func (g *Graph) Ancestors(ctx context.Context, h lineage.Hash, maxDepth int) ([]lineage.Hash, error) {
	_, order, err := g.bfs(ctx, h, maxDepth, g.parentHashes)
	return order, err
}

// Descendants returns the transitive children of h in breadth-first order.
// If maxDepth is positive, the search stops that many generations forward.
func (g *Graph) Descendants(ctx context.Context, h lineage.Hash, maxDepth int) ([]lineage.Hash, error) {
	_, order, err := g.bfs(ctx, h, maxDepth, g.children)
	return order, err
}

func (g *Graph) parentHashes(ctx context.Context, h lineage.Hash) ([]lineage.Hash, error) {
	parents, _, err := g.x.Parents(ctx, g.typ, h)
	if err != nil {
		return nil, err
	}
	out := make([]lineage.Hash, 0, len(parents))
	for _, p := range parents {
		out = append(out, p.Hash)
	}
	return out, nil
}

func (g *Graph) children(ctx context.Context, h lineage.Hash) ([]lineage.Hash, error) {
	return g.x.Children(ctx, g.typ, h)
}

// bfs walks from start along next.
// It returns the distance of every node reached (start included, at 0)
// and the nodes other than start in the order they were reached.
func (g *Graph) bfs(ctx context.Context, start lineage.Hash, maxDepth int, next func(context.Context, lineage.Hash) ([]lineage.Hash, error)) (map[lineage.Hash]int, []lineage.Hash, error) {
	var (
		dist  = map[lineage.Hash]int{start: 0}
		queue = []lineage.Hash{start}
		order []lineage.Hash
	)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		h := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && dist[h] >= maxDepth {
			continue
		}
		nbrs, err := next(ctx, h)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "visiting %s", h)
		}
		for _, n := range nbrs {
			if _, ok := dist[n]; ok {
				continue
			}
			dist[n] = dist[h] + 1
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return dist, order, nil
}

// Siblings returns the other children of h's parents,
// in order by hash.
func (g *Graph) Siblings(ctx context.Context, h lineage.Hash) ([]lineage.Hash, error) {
	parents, err := g.parentHashes(ctx, h)
	if err != nil {
		return nil, err
	}
	seen := make(map[lineage.Hash]struct{})
	var out []lineage.Hash
	for _, p := range parents {
		children, err := g.children(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if c == h {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sortHashes(out)
	return out, nil
}

// CommonAncestor returns the nearest object that is an ancestor of both h1 and h2.
// Unlike Ancestors, which never includes its starting object,
// CommonAncestor counts each object as its own ancestor at distance zero.
// So if h1 is an ancestor of h2 the result is h1, not h1's parent,
// and CommonAncestor(h, h) is h.
// Among several candidates the Graph's TieBreak decides,
// with the lower hash as the last resort.
// The error is lineage.ErrNotFound if h1 and h2 share no ancestor.
func (g *Graph) CommonAncestor(ctx context.Context, h1, h2 lineage.Hash) (lineage.Hash, error) {
	d1, _, err := g.bfs(ctx, h1, 0, g.parentHashes)
	if err != nil {
		return lineage.Zero, err
	}
	d2, _, err := g.bfs(ctx, h2, 0, g.parentHashes)
	if err != nil {
		return lineage.Zero, err
	}

	type candidate struct {
		h    lineage.Hash
		dist int
		when time.Time
	}
	var cands []candidate
	for h, dist1 := range d1 {
		dist2, ok := d2[h]
		if !ok {
			continue
		}
		when, err := g.timestamp(ctx, h)
		if err != nil {
			return lineage.Zero, err
		}
		cands = append(cands, candidate{h: h, dist: dist1 + dist2, when: when})
	}
	if len(cands) == 0 {
		return lineage.Zero, errors.Wrapf(lineage.ErrNotFound, "no common ancestor of %s and %s", h1, h2)
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch g.tieBreak {
		case EarliestTimestamp:
			if !a.when.Equal(b.when) {
				return a.when.Before(b.when)
			}
			if a.dist != b.dist {
				return a.dist < b.dist
			}
		default:
			if a.dist != b.dist {
				return a.dist < b.dist
			}
			if !a.when.Equal(b.when) {
				return a.when.Before(b.when)
			}
		}
		return a.h.Less(b.h)
	})
	return cands[0].h, nil
}

// timestamp is when h came to be:
// its derivation's timestamp if it has one,
// else its creation time if it is stored,
// else the zero time.
func (g *Graph) timestamp(ctx context.Context, h lineage.Hash) (time.Time, error) {
	d, err := g.s.Derivation(ctx, g.typ, h)
	if err == nil {
		return d.Timestamp, nil
	}
	if !errors.Is(err, lineage.ErrNotFound) {
		return time.Time{}, err
	}
	m, err := g.s.Metadata(ctx, g.typ, h)
	if errors.Is(err, lineage.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return m.CreatedAt, nil
}

// SemanticNeighbors returns stored objects whose similarity hashes
// agree with h's in at least the fraction threshold of their digits,
// best first, excluding h itself.
// It is independent of genealogy.
// If max is positive, at most max results are returned.
func (g *Graph) SemanticNeighbors(ctx context.Context, h lineage.Hash, threshold float64, max int) ([]simindex.Match, error) {
	m, err := g.s.Metadata(ctx, g.typ, h)
	if err != nil {
		return nil, errors.Wrapf(err, "loading metadata of %s", h)
	}
	matches, err := g.s.FindSimilar(ctx, g.typ, m.SimilarityHash, threshold, 0)
	if err != nil {
		return nil, err
	}
	out := make([]simindex.Match, 0, len(matches))
	for _, match := range matches {
		if match.Hash == h {
			continue
		}
		out = append(out, match)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// CapabilitySearch returns the objects whose derivations declare
// any of the given capabilities,
// in order by hash.
func (g *Graph) CapabilitySearch(ctx context.Context, caps []string) ([]lineage.Hash, error) {
	seen := make(map[lineage.Hash]struct{})
	var out []lineage.Hash
	for _, c := range lineage.NormalizeSet(caps) {
		hashes, err := g.x.ByCapability(ctx, g.typ, c)
		if err != nil {
			return nil, errors.Wrapf(err, "looking up capability %s", c)
		}
		for _, h := range hashes {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	sortHashes(out)
	return out, nil
}

// EvolutionPath returns the shortest chain of derivations leading from one object to another,
// both endpoints included.
// Each element after the first was derived from the one before it.
// Among paths of equal length the one through lower hashes wins.
// The error is lineage.ErrNotFound if to is not a descendant of from.
func (g *Graph) EvolutionPath(ctx context.Context, from, to lineage.Hash) ([]lineage.Hash, error) {
	if from == to {
		return []lineage.Hash{from}, nil
	}

	var (
		prev  = map[lineage.Hash]lineage.Hash{}
		queue = []lineage.Hash{from}
	)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := queue[0]
		queue = queue[1:]
		children, err := g.children(ctx, h)
		if err != nil {
			return nil, errors.Wrapf(err, "visiting %s", h)
		}
		for _, c := range children {
			if c == from {
				continue
			}
			if _, ok := prev[c]; ok {
				continue
			}
			prev[c] = h
			if c == to {
				return unwind(prev, from, to), nil
			}
			queue = append(queue, c)
		}
	}
	return nil, errors.Wrapf(lineage.ErrNotFound, "no path from %s to %s", from, to)
}

func unwind(prev map[lineage.Hash]lineage.Hash, from, to lineage.Hash) []lineage.Hash {
	path := []lineage.Hash{to}
	for h := to; h != from; {
		h = prev[h]
		path = append(path, h)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// SetDiff compares two string sets.
type SetDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Common  []string `json:"common"`
}

// Diff is the fingerprint-level difference between two objects.
type Diff struct {
	Capabilities    SetDiff `json:"capabilities"`
	Intent          SetDiff `json:"intent"`
	EntropyDelta    float64 `json:"entropy_delta"`
	NegentropyDelta float64 `json:"negentropy_delta"`
}

// DiffSemantic compares the semantic fingerprints of h1 and h2.
// Added means present for h2 but not h1.
// The deltas are h2's values minus h1's.
// A root has an empty fingerprint
// and the entropy recorded in its metadata.
func (g *Graph) DiffSemantic(ctx context.Context, h1, h2 lineage.Hash) (*Diff, error) {
	f1, e1, n1, err := g.fingerprint(ctx, h1)
	if err != nil {
		return nil, err
	}
	f2, e2, n2, err := g.fingerprint(ctx, h2)
	if err != nil {
		return nil, err
	}
	return &Diff{
		Capabilities:    diffSets(f1.Capabilities, f2.Capabilities),
		Intent:          diffSets(f1.Intent, f2.Intent),
		EntropyDelta:    e2 - e1,
		NegentropyDelta: n2 - n1,
	}, nil
}

func (g *Graph) fingerprint(ctx context.Context, h lineage.Hash) (lineage.Fingerprint, float64, float64, error) {
	d, err := g.s.Derivation(ctx, g.typ, h)
	if err == nil {
		return d.Semantic, d.Entropy, d.Negentropy, nil
	}
	if !errors.Is(err, lineage.ErrNotFound) {
		return lineage.Fingerprint{}, 0, 0, err
	}
	m, err := g.s.Metadata(ctx, g.typ, h)
	if err != nil {
		return lineage.Fingerprint{}, 0, 0, errors.Wrapf(err, "loading metadata of root %s", h)
	}
	return lineage.Fingerprint{}, m.Entropy, m.Negentropy, nil
}

func diffSets(a, b []string) SetDiff {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := SetDiff{Added: []string{}, Removed: []string{}, Common: []string{}}
	for _, s := range lineage.NormalizeSet(b) {
		if inA[s] {
			out.Common = append(out.Common, s)
		} else {
			out.Added = append(out.Added, s)
		}
	}
	for _, s := range lineage.NormalizeSet(a) {
		if !inB[s] {
			out.Removed = append(out.Removed, s)
		}
	}
	return out
}

func sortHashes(hashes []lineage.Hash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
}
