package testutil

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
)

// Index tests a dag.Index implementation.
// The index must start out empty.
func Index(ctx context.Context, t *testing.T, x dag.Index) {
	t.Helper()

	var (
		r = lineage.ExactHash([]byte("root"))
		a = lineage.ExactHash([]byte("a"))
		b = lineage.ExactHash([]byte("b"))
		c = lineage.ExactHash([]byte("c"))
	)

	derivs := []*lineage.Derivation{
		{
			ObjectHash: a,
			ObjectType: "schema",
			Parents:    []lineage.ParentRef{{Hash: r, Relation: lineage.Extends, Similarity: 0.75}},
			Semantic:   lineage.Fingerprint{Capabilities: []string{"x"}},
		},
		{
			ObjectHash: b,
			ObjectType: "schema",
			Parents:    []lineage.ParentRef{{Hash: r, Relation: lineage.Refines, Similarity: 0.5, Branch: "experimental"}},
			Semantic:   lineage.Fingerprint{Capabilities: []string{"x", "y"}},
		},
		{
			ObjectHash: c,
			ObjectType: "schema",
			Parents: []lineage.ParentRef{
				{Hash: b, Relation: lineage.Merges, Similarity: 0.25},
				{Hash: a, Relation: lineage.Merges, Similarity: 1},
			},
			Semantic: lineage.Fingerprint{Capabilities: []string{"z"}},
		},
	}
	for _, d := range derivs {
		if err := x.Add(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	// A second derivation for the same object is ignored.
	err := x.Add(ctx, &lineage.Derivation{
		ObjectHash: a,
		ObjectType: "schema",
		Parents:    []lineage.ParentRef{{Hash: c, Relation: lineage.Derives}},
		Semantic:   lineage.Fingerprint{Capabilities: []string{"w"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("parents", func(t *testing.T) {
		got, derived, err := x.Parents(ctx, "schema", c)
		if err != nil {
			t.Fatal(err)
		}
		if !derived {
			t.Fatal("derived object reported as a root")
		}
		if diff := cmp.Diff(derivs[2].Parents, got); diff != "" {
			t.Errorf("parents of c mismatch (-want +got):\n%s", diff)
		}

		got, _, err = x.Parents(ctx, "schema", a)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(derivs[0].Parents, got); diff != "" {
			t.Errorf("parents of a mismatch (-want +got):\n%s", diff)
		}

		got, derived, err = x.Parents(ctx, "schema", r)
		if err != nil {
			t.Fatal(err)
		}
		if derived || len(got) != 0 {
			t.Errorf("root reported as derived from %v", got)
		}

		if _, derived, err = x.Parents(ctx, "other", c); err != nil || derived {
			t.Errorf("got derived=%v err=%v in another type", derived, err)
		}
	})

	t.Run("children", func(t *testing.T) {
		got, err := x.Children(ctx, "schema", r)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(sorted(a, b), got); diff != "" {
			t.Errorf("children of root mismatch (-want +got):\n%s", diff)
		}

		got, err = x.Children(ctx, "schema", c)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("got children %v of a leaf", got)
		}
	})

	t.Run("capabilities", func(t *testing.T) {
		got, err := x.ByCapability(ctx, "schema", "x")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(sorted(a, b), got); diff != "" {
			t.Errorf("capability x mismatch (-want +got):\n%s", diff)
		}

		got, err = x.ByCapability(ctx, "schema", "w")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("capability from an ignored derivation was indexed: %v", got)
		}
	})
}

func sorted(hashes ...lineage.Hash) []lineage.Hash {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	return hashes
}
