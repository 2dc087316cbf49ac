package derive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/store/mem"
	"github.com/bobg/lineage/transform"
)

type env struct {
	s *objstore.Store
	x *dag.MemIndex
	e *Engine
	g *dag.Graph
}

func newEnv() *env {
	clock := time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)
	s := objstore.New(mem.New(), objstore.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	x := dag.NewMemIndex()
	return &env{s: s, x: x, e: New(s, x), g: dag.New(s, x, "schema")}
}

func (v *env) put(t *testing.T, content string) lineage.Hash {
	t.Helper()
	m, _, err := v.s.Put(context.Background(), []byte(content), "schema", nil)
	if err != nil {
		t.Fatal(err)
	}
	return m.ExactHash
}

func mustDesc(t *testing.T, op transform.Op) transform.Descriptor {
	t.Helper()
	d, err := transform.New(op)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreate(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
		a   = v.put(t, `{"x":{}}`)
	)

	h, err := v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}},
		Transformation: mustDesc(t, &transform.AddField{Changes: []transform.FieldAdd{{Path: "x.y", Add: 5}}}),
		Semantic:       lineage.Fingerprint{Capabilities: []string{"validate"}},
		Author:         "alice",
		Metadata:       map[string]interface{}{"note": "scenario"},
	})
	if err != nil {
		t.Fatal(err)
	}

	obj, err := v.s.Get(ctx, "schema", h)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(obj.Content); got != `{"x":{"y":5}}` {
		t.Errorf("got content %s, want {\"x\":{\"y\":5}}", got)
	}
	if obj.Metadata.Extra["note"] != "scenario" {
		t.Errorf("caller metadata lost: %v", obj.Metadata.Extra)
	}

	ancestors, err := v.g.Ancestors(ctx, h, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{a}, ancestors); diff != "" {
		t.Errorf("ancestors mismatch (-want +got):\n%s", diff)
	}
	for _, anc := range ancestors {
		if anc == h {
			t.Error("object is its own ancestor")
		}
	}

	d, err := v.s.Derivation(ctx, "schema", h)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Parents) != 1 || d.Parents[0].Hash != a || d.Parents[0].Relation != lineage.Derives {
		t.Errorf("unexpected parents %+v", d.Parents)
	}
	if sim := d.Parents[0].Similarity; sim < 0 || sim > 1 {
		t.Errorf("parent similarity %v out of range", sim)
	}
	if d.Author != "alice" || d.Entropy != obj.Metadata.Entropy {
		t.Errorf("unexpected derivation %+v", d)
	}

	rec, err := v.s.Backend().GetDerivation(ctx, "schema", h)
	if err != nil {
		t.Fatal(err)
	}
	id := lineage.ExactHash(rec)
	if obj.Metadata.Derivation == nil || *obj.Metadata.Derivation != id {
		t.Errorf("got back-reference %v, want %s", obj.Metadata.Derivation, id)
	}

	found, err := v.g.CapabilitySearch(ctx, []string{"validate"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{h}, found); diff != "" {
		t.Errorf("capability search mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateIdempotent(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
		a   = v.put(t, `{"x":{}}`)
		req = Request{
			Type:           "schema",
			Parents:        []Parent{{Hash: a, Relation: lineage.Extends}},
			Transformation: mustDesc(t, &transform.AddField{Changes: []transform.FieldAdd{{Path: "x.y", Add: 5}}}),
			Author:         "alice",
		}
	)

	h1, err := v.e.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	req.Author = "bob"
	h2, err := v.e.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("got %s then %s", h1, h2)
	}

	var n int
	err = v.s.ListDerivations(ctx, "schema", func(d *lineage.Derivation) error {
		n++
		if d.Author != "alice" {
			t.Errorf("got author %s, want alice", d.Author)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d derivation records, want 1", n)
	}
}

func TestCreateRoot(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
	)
	h, err := v.e.Create(ctx, Request{
		Type:           "schema",
		Transformation: mustDesc(t, &transform.AddField{Changes: []transform.FieldAdd{{Path: "a", Add: 1}}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := v.s.Get(ctx, "schema", h)
	if err != nil {
		t.Fatal(err)
	}
	if string(obj.Content) != `{"a":1}` {
		t.Errorf("got %s", obj.Content)
	}
	parents, derived, err := v.g.Parents(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !derived || len(parents) != 0 {
		t.Errorf("got derived=%v parents=%v, want a parentless derivation", derived, parents)
	}
}

func TestMerge(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
		p1  = v.put(t, `{"a":[1],"m":{"x":1}}`)
		p2  = v.put(t, `{"a":[2],"m":{"y":2}}`)
	)
	h, err := v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: p1, Relation: lineage.Merges}, {Hash: p2, Relation: lineage.Merges, Branch: "feature"}},
		Transformation: mustDesc(t, &transform.MergeSchemas{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := v.s.Get(ctx, "schema", h)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(obj.Content), `{"a":[1,2],"m":{"x":1,"y":2}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	parents, _, err := v.g.Parents(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if len(parents) != 2 || parents[0].Hash != p1 || parents[1].Hash != p2 || parents[1].Branch != "feature" {
		t.Errorf("unexpected parents %+v", parents)
	}
}

func TestCycle(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
		a   = v.put(t, `{"x":{}}`)
	)

	b, err := v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}},
		Transformation: mustDesc(t, &transform.AddField{Changes: []transform.FieldAdd{{Path: "x.y", Add: 5}}}),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Removing the field reproduces a, which is b's ancestor.
	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: b}},
		Transformation: mustDesc(t, &transform.RemoveField{Changes: []transform.PathChange{{Path: "x.y"}}}),
	})
	if !errors.Is(err, lineage.ErrCycle) {
		t.Errorf("got %v, want ErrCycle", err)
	}

	// Setting x to what it already is reproduces the parent itself.
	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}},
		Transformation: mustDesc(t, &transform.ConstrainValue{Changes: []transform.Constraint{{Path: "x", Value: map[string]interface{}{}}}}),
	})
	if !errors.Is(err, lineage.ErrCycle) {
		t.Errorf("got %v, want ErrCycle", err)
	}

	if _, err = v.s.Derivation(ctx, "schema", a); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("rejected derivation was recorded for %s (err %v)", a, err)
	}
}

func TestCreateErrors(t *testing.T) {
	var (
		ctx = context.Background()
		v   = newEnv()
		a   = v.put(t, `{"x":{}}`)
	)

	_, err := v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}},
		Transformation: mustDesc(t, &transform.ModifyLogic{}),
	})
	if !errors.Is(err, transform.ErrNotSupported) {
		t.Errorf("got %v, want ErrNotSupported", err)
	} else if msg := err.Error(); !strings.Contains(msg, "modify_logic") || !strings.Contains(msg, a.String()) {
		t.Errorf("error %q does not name the operation and parent", msg)
	}

	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}, {Hash: a}},
		Transformation: mustDesc(t, &transform.AddField{Changes: []transform.FieldAdd{{Path: "z", Add: true}}}),
	})
	var cerr *transform.ConfigError
	if !errors.As(err, &cerr) {
		t.Errorf("got %v, want ConfigError for two parents of a single-parent operation", err)
	}

	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: lineage.ExactHash([]byte("absent"))}},
		Transformation: mustDesc(t, &transform.MergeSchemas{}),
	})
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for a missing parent", err)
	}

	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a}, {Hash: lineage.ExactHash([]byte("absent"))}},
		Transformation: mustDesc(t, &transform.MergeSchemas{}),
	})
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for a missing second parent", err)
	} else if !strings.Contains(err.Error(), "loading parent 1") {
		t.Errorf("error %q does not say which parent was missing", err)
	}

	_, err = v.e.Create(ctx, Request{
		Type:           "schema",
		Parents:        []Parent{{Hash: a, Relation: "begets"}},
		Transformation: mustDesc(t, &transform.MergeSchemas{}),
	})
	if err == nil {
		t.Error("got no error for unknown relation")
	}

	_, err = v.e.Create(ctx, Request{Type: "schema", Parents: []Parent{{Hash: a}}})
	if !errors.As(err, &cerr) {
		t.Errorf("got %v, want ConfigError for empty descriptor", err)
	}
}
