package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lineage"
)

// Derivations tests that the first record written for a hash wins
// and that records list in hash order.
func Derivations(ctx context.Context, t *testing.T, b lineage.DerivationBackend) {
	var (
		h1 = lineage.Hash{0xb0}
		h2 = lineage.Hash{0x0b}
	)

	added, err := b.PutDerivation(ctx, "file", h1, []byte(`{"n":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first PutDerivation reported no addition")
	}
	added, err = b.PutDerivation(ctx, "file", h1, []byte(`{"n":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second PutDerivation reported an addition")
	}
	if _, err = b.PutDerivation(ctx, "file", h2, []byte(`{"n":3}`)); err != nil {
		t.Fatal(err)
	}

	got, err := b.GetDerivation(ctx, "file", h1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("got %s, want the first record", got)
	}

	if _, err = b.GetDerivation(ctx, "schema", h1); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for a record of another type, want ErrNotFound", err)
	}

	var hashes []lineage.Hash
	err = b.ListDerivations(ctx, "file", func(h lineage.Hash, _ []byte) error {
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]lineage.Hash{h2, h1}, hashes); diff != "" {
		t.Errorf("ListDerivations mismatch (-want +got):\n%s", diff)
	}
}
