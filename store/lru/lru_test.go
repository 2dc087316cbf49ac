package lru

import (
	"context"
	"testing"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
	"github.com/bobg/lineage/store/mem"
	"github.com/bobg/lineage/testutil"
)

func TestBackend(t *testing.T) {
	testutil.Backend(context.Background(), t, func() lineage.Backend {
		b, err := New(mem.New(), 1000)
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

func TestCaching(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = mem.New()
		h      = lineage.ExactHash([]byte("x"))
	)
	b, err := New(nested, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = nested.PutObject(ctx, "file", h, []byte("x"), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, _, err = b.GetObject(ctx, "file", h); err != nil {
		t.Fatal(err)
	}

	nested.DeleteObject("file", h)

	got, _, err := b.GetObject(ctx, "file", h)
	if err != nil {
		t.Fatalf("cached object not served: %s", err)
	}
	if string(got) != "x" {
		t.Errorf("got %q, want x", got)
	}

	b.Purge()
	if _, _, err = b.GetObject(ctx, "file", h); err != lineage.ErrNotFound {
		t.Errorf("got %v after purge, want ErrNotFound", err)
	}
}

func TestCacheCopies(t *testing.T) {
	var (
		ctx  = context.Background()
		rec  = []byte(`{"object_hash":"x"}`)
		put  = []byte("hello")
		h    = lineage.ExactHash(put)
		meta = []byte("{}")
	)
	b, err := New(mem.New(), 10)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = b.PutObject(ctx, "file", h, put, meta); err != nil {
		t.Fatal(err)
	}
	put[0] = 'J'

	got, _, err := b.GetObject(ctx, "file", h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q after modifying the written slice, want hello", got)
	}
	got[0] = 'J'

	got, _, err = b.GetObject(ctx, "file", h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("second GetObject returned %q, want hello", got)
	}

	if _, err = b.PutDerivation(ctx, "file", h, rec); err != nil {
		t.Fatal(err)
	}
	d, err := b.GetDerivation(ctx, "file", h)
	if err != nil {
		t.Fatal(err)
	}
	d[0] = 'X'
	d, err = b.GetDerivation(ctx, "file", h)
	if err != nil {
		t.Fatal(err)
	}
	if string(d) != string(rec) {
		t.Errorf("second GetDerivation returned %q, want %q", d, rec)
	}
}

func TestRegister(t *testing.T) {
	r := store.NewRegistry()
	mem.Register(r)
	Register(r)

	b, err := r.Create(context.Background(), "lru", map[string]interface{}{
		"size":   float64(5),
		"nested": map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*Backend); !ok {
		t.Errorf("got %T, want *Backend", b)
	}

	if _, err = r.Create(context.Background(), "lru", map[string]interface{}{"size": 5}); err == nil {
		t.Error("got no error for missing nested config")
	}
}
