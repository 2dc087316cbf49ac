package mem

import (
	"context"
	"testing"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/testutil"
)

func TestBackend(t *testing.T) {
	testutil.Backend(context.Background(), t, func() lineage.Backend { return New() })
}

func TestDeleteObject(t *testing.T) {
	var (
		ctx = context.Background()
		b   = New()
		h   = lineage.ExactHash([]byte("x"))
	)
	if _, err := b.PutObject(ctx, "file", h, []byte("x"), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	b.DeleteObject("file", h)
	if _, _, err := b.GetObject(ctx, "file", h); err != lineage.ErrNotFound {
		t.Errorf("got %v after DeleteObject, want ErrNotFound", err)
	}
}
