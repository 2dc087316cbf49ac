// Package testutil holds conformance tests shared by the backend and index implementations.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
)

// Backend runs every backend conformance test against fresh backends from factory.
func Backend(ctx context.Context, t *testing.T, factory func() lineage.Backend) {
	t.Run("read_write", func(t *testing.T) { ReadWrite(ctx, t, factory()) })
	t.Run("all_objects", func(t *testing.T) { AllObjects(ctx, t, factory) })
	t.Run("refs", func(t *testing.T) { Refs(ctx, t, factory()) })
	t.Run("buckets", func(t *testing.T) { Buckets(ctx, t, factory()) })
	t.Run("derivations", func(t *testing.T) { Derivations(ctx, t, factory()) })
}

// ReadWrite writes random objects to b
// and makes sure they read back exactly,
// and that writing them again is a no-op.
func ReadWrite(ctx context.Context, t *testing.T, b lineage.ObjectBackend) {
	const typ = lineage.ObjectType("blob")

	check := func(content []byte) bool {
		var (
			h    = lineage.ExactHash(content)
			meta = []byte(`{"exact_hash":"` + h.String() + `"}`)
		)
		if _, err := b.PutObject(ctx, typ, h, content, meta); err != nil {
			t.Log(err)
			return false
		}
		added2, err := b.PutObject(ctx, typ, h, content, []byte(`{"other":true}`))
		if err != nil {
			t.Log(err)
			return false
		}
		if added2 {
			t.Logf("second PutObject of %s reported an addition", h)
			return false
		}

		gotContent, gotMeta, err := b.GetObject(ctx, typ, h)
		if err != nil {
			t.Log(err)
			return false
		}
		if !bytes.Equal(gotContent, content) {
			t.Logf("content of %s: got %x, want %x", h, gotContent, content)
			return false
		}
		if !bytes.Equal(gotMeta, meta) {
			t.Logf("metadata of %s: got %s, want %s", h, gotMeta, meta)
			return false
		}
		onlyMeta, err := b.GetMetadata(ctx, typ, h)
		if err != nil {
			t.Log(err)
			return false
		}
		if !bytes.Equal(onlyMeta, meta) {
			t.Logf("GetMetadata of %s: got %s, want %s", h, onlyMeta, meta)
			return false
		}
		return true
	}

	if !check(nil) {
		t.Fatal("empty content failed to round-trip")
	}
	if err := quick.Check(check, nil); err != nil {
		t.Error(err)
	}

	_, _, err := b.GetObject(ctx, typ, lineage.ExactHash([]byte("never stored")))
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for a missing object, want ErrNotFound", err)
	}
	_, _, err = b.GetObject(ctx, "othertype", lineage.ExactHash(nil))
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for an object of the wrong type, want ErrNotFound", err)
	}
	_, err = b.GetMetadata(ctx, typ, lineage.ExactHash([]byte("never stored")))
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v from GetMetadata for a missing object, want ErrNotFound", err)
	}
}

// AllObjects writes a random set of random objects to an empty backend
// and makes sure that the right set of hashes comes back from ListObjects.
func AllObjects(ctx context.Context, t *testing.T, factory func() lineage.Backend) {
	f := func(blobs [][]byte) bool {
		var (
			b    = factory()
			want []lineage.Hash
		)
		for _, blob := range blobs {
			h := lineage.ExactHash(blob)
			added, err := b.PutObject(ctx, "blob", h, blob, []byte("{}"))
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, h)
			}
		}
		var got []lineage.Hash
		err := b.ListObjects(ctx, "blob", func(h lineage.Hash) error {
			got = append(got, h)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

		if diff := cmp.Diff(want, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}
