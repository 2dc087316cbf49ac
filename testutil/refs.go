package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
)

// Refs tests writing, overwriting, resolving, and listing refs.
func Refs(ctx context.Context, t *testing.T, b lineage.RefBackend) {
	var (
		h1 = lineage.Hash{0x1a}
		h2 = lineage.Hash{0x1b}
		h3 = lineage.Hash{0x2}
	)

	if err := b.PutRef(ctx, "file", "ref1", h1); err != nil {
		t.Fatal(err)
	}
	if err := b.PutRef(ctx, "file", "ref1", h2); err != nil {
		t.Fatal(err)
	}
	if err := b.PutRef(ctx, "file", "ref2", h3); err != nil {
		t.Fatal(err)
	}
	if err := b.PutRef(ctx, "schema", "ref1", h3); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		typ     lineage.ObjectType
		name    string
		want    lineage.Hash
		wantErr error
	}{
		{typ: "file", name: "ref1", want: h2},
		{typ: "file", name: "ref2", want: h3},
		{typ: "schema", name: "ref1", want: h3},
		{typ: "file", name: "ref3", wantErr: lineage.ErrNotFound},
		{typ: "schema", name: "ref2", wantErr: lineage.ErrNotFound},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := b.GetRef(ctx, c.typ, c.name)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("got error %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}

	type pair struct {
		Name string
		Hash lineage.Hash
	}
	var got []pair
	err := b.ListRefs(ctx, "file", func(name string, h lineage.Hash) error {
		got = append(got, pair{Name: name, Hash: h})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []pair{{Name: "ref1", Hash: h2}, {Name: "ref2", Hash: h3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListRefs mismatch (-want +got):\n%s", diff)
	}
}
