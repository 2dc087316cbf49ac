package dag_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/derive"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/store/mem"
	"github.com/bobg/lineage/testutil"
	"github.com/bobg/lineage/transform"
)

func TestMemIndex(t *testing.T) {
	testutil.Index(context.Background(), t, dag.NewMemIndex())
}

// family builds this graph of "schema" objects:
//
//	R ─┬─ A ── C ─┬─ M
//	   └─ B ──────┘
type family struct {
	s                *objstore.Store
	x                *dag.MemIndex
	r, a, b, c, m, u lineage.Hash
}

func newFamily(t *testing.T) *family {
	var (
		ctx   = context.Background()
		clock = time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)
		s     = objstore.New(mem.New(), objstore.WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}))
		x = dag.NewMemIndex()
		e = derive.New(s, x)
		f = &family{s: s, x: x}
	)

	put := func(content string) lineage.Hash {
		m, _, err := s.Put(ctx, []byte(content), "schema", nil)
		if err != nil {
			t.Fatal(err)
		}
		return m.ExactHash
	}
	create := func(op transform.Op, fp lineage.Fingerprint, parents ...lineage.Hash) lineage.Hash {
		desc, err := transform.New(op)
		if err != nil {
			t.Fatal(err)
		}
		req := derive.Request{Type: "schema", Transformation: desc, Semantic: fp}
		for _, p := range parents {
			req.Parents = append(req.Parents, derive.Parent{Hash: p})
		}
		h, err := e.Create(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		return h
	}
	addField := func(path string) transform.Op {
		return &transform.AddField{Changes: []transform.FieldAdd{{Path: path, Add: 1}}}
	}

	f.r = put(`{"v":0}`)
	f.u = put(`{"unrelated":true}`)
	f.a = create(addField("a"), lineage.Fingerprint{Capabilities: []string{"parse"}}, f.r)
	f.b = create(addField("b"), lineage.Fingerprint{Capabilities: []string{"parse", "validate"}, Intent: []string{"check"}}, f.r)
	f.c = create(addField("c"), lineage.Fingerprint{}, f.a)
	f.m = create(&transform.MergeSchemas{}, lineage.Fingerprint{Capabilities: []string{"merge"}}, f.c, f.b)
	return f
}

func (f *family) graph(opts ...dag.Option) *dag.Graph {
	return dag.New(f.s, f.x, "schema", opts...)
}

func sorted(hashes ...lineage.Hash) []lineage.Hash {
	out := append([]lineage.Hash(nil), hashes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func TestAncestors(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.Ancestors(ctx, f.m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{f.c, f.b, f.a, f.r}, got); diff != "" {
		t.Errorf("ancestors mismatch (-want +got):\n%s", diff)
	}

	got, err = g.Ancestors(ctx, f.m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{f.c, f.b}, got); diff != "" {
		t.Errorf("depth-limited ancestors mismatch (-want +got):\n%s", diff)
	}

	got, err = g.Ancestors(ctx, f.r, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("root has ancestors %v", got)
	}
}

func TestDescendants(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.Descendants(ctx, f.r, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sorted(f.a, f.b, f.c, f.m), sorted(got...)); diff != "" {
		t.Errorf("descendants mismatch (-want +got):\n%s", diff)
	}

	got, err = g.Descendants(ctx, f.r, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sorted(f.a, f.b), got); diff != "" {
		t.Errorf("depth-limited descendants mismatch (-want +got):\n%s", diff)
	}
}

func TestSiblings(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.Siblings(ctx, f.a)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{f.b}, got); diff != "" {
		t.Errorf("siblings mismatch (-want +got):\n%s", diff)
	}

	got, err = g.Siblings(ctx, f.r)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("root has siblings %v", got)
	}
}

func TestCommonAncestor(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	cases := []struct {
		name   string
		h1, h2 lineage.Hash
		want   lineage.Hash
	}{
		{name: "cousins", h1: f.c, h2: f.b, want: f.r},
		{name: "self_is_ancestor", h1: f.c, h2: f.m, want: f.c},
		{name: "siblings", h1: f.a, h2: f.b, want: f.r},
		{name: "same", h1: f.a, h2: f.a, want: f.a},
		{name: "parent_and_child", h1: f.a, h2: f.c, want: f.a},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := g.CommonAncestor(ctx, c.h1, c.h2)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
		})
	}

	// The walk behind Ancestors excludes the starting object.
	ancestors, err := g.Ancestors(ctx, f.c, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range ancestors {
		if h == f.c {
			t.Errorf("Ancestors of %s includes itself", f.c)
		}
	}

	if _, err := g.CommonAncestor(ctx, f.u, f.a); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for unrelated objects, want ErrNotFound", err)
	}
}

func TestCommonAncestorTieBreak(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
	)

	// M and A share A (combined distance 2) and R (combined distance 3).
	// R is the older of the two.
	got, err := f.graph().CommonAncestor(ctx, f.m, f.a)
	if err != nil {
		t.Fatal(err)
	}
	if got != f.a {
		t.Errorf("shortest path: got %s, want %s", got, f.a)
	}

	got, err = f.graph(dag.WithTieBreak(dag.EarliestTimestamp)).CommonAncestor(ctx, f.m, f.a)
	if err != nil {
		t.Fatal(err)
	}
	if got != f.r {
		t.Errorf("earliest timestamp: got %s, want %s", got, f.r)
	}
}

func TestEvolutionPath(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	cases := []struct {
		name     string
		from, to lineage.Hash
		want     []lineage.Hash
	}{
		{name: "shortest", from: f.r, to: f.m, want: []lineage.Hash{f.r, f.b, f.m}},
		{name: "chain", from: f.r, to: f.c, want: []lineage.Hash{f.r, f.a, f.c}},
		{name: "self", from: f.a, to: f.a, want: []lineage.Hash{f.a}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := g.EvolutionPath(ctx, c.from, c.to)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := g.EvolutionPath(ctx, f.c, f.r); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for a backward path, want ErrNotFound", err)
	}
}

func TestCapabilitySearch(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.CapabilitySearch(ctx, []string{"validate", "merge", "validate"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sorted(f.b, f.m), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got, err = g.CapabilitySearch(ctx, []string{"fly"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v for an unknown capability", got)
	}
}

func TestDiffSemantic(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.DiffSemantic(ctx, f.a, f.b)
	if err != nil {
		t.Fatal(err)
	}
	da, err := f.s.Derivation(ctx, "schema", f.a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := f.s.Derivation(ctx, "schema", f.b)
	if err != nil {
		t.Fatal(err)
	}
	want := &dag.Diff{
		Capabilities:    dag.SetDiff{Added: []string{"validate"}, Removed: []string{}, Common: []string{"parse"}},
		Intent:          dag.SetDiff{Added: []string{"check"}, Removed: []string{}, Common: []string{}},
		EntropyDelta:    db.Entropy - da.Entropy,
		NegentropyDelta: db.Negentropy - da.Negentropy,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// A root has an empty fingerprint.
	got, err = g.DiffSemantic(ctx, f.a, f.r)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"parse"}, got.Capabilities.Removed); diff != "" {
		t.Errorf("root diff mismatch (-want +got):\n%s", diff)
	}
}

func TestSemanticNeighbors(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
		g   = f.graph()
	)

	got, err := g.SemanticNeighbors(ctx, f.a, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := f.s.Metadata(ctx, "schema", f.a)
	if err != nil {
		t.Fatal(err)
	}
	all, err := f.s.FindSimilar(ctx, "schema", meta.SimilarityHash, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(all)-1 {
		t.Errorf("got %d neighbors, want %d", len(got), len(all)-1)
	}
	for _, match := range got {
		if match.Hash == f.a {
			t.Error("object is its own neighbor")
		}
	}

	if _, err = g.SemanticNeighbors(ctx, lineage.ExactHash([]byte("absent")), 0, 0); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for a missing object, want ErrNotFound", err)
	}
}

func TestLoad(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFamily(t)
	)

	x, err := dag.Load(ctx, f.s, "schema")
	if err != nil {
		t.Fatal(err)
	}
	want, err := f.graph().Ancestors(ctx, f.m, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dag.New(f.s, x, "schema").Ancestors(ctx, f.m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded index disagrees (-want +got):\n%s", diff)
	}

	n, err := dag.Rebuild(ctx, f.s, x, "schema")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("rebuild visited %d records, want 4", n)
	}
}
