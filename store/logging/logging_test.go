package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store/mem"
	"github.com/bobg/lineage/testutil"
)

func TestBackend(t *testing.T) {
	testutil.Backend(context.Background(), t, func() lineage.Backend {
		return New(mem.New(), zerolog.Nop())
	})
}

func TestLogOutput(t *testing.T) {
	var (
		ctx = context.Background()
		buf = new(bytes.Buffer)
		b   = New(mem.New(), zerolog.New(buf).Level(zerolog.DebugLevel))
		h   = lineage.ExactHash([]byte("x"))
	)

	if _, err := b.PutObject(ctx, "file", h, []byte("x"), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetRef(ctx, "file", "missing"); err != lineage.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf)
	}
	if !strings.Contains(lines[0], `"message":"PutObject"`) || !strings.Contains(lines[0], h.String()) {
		t.Errorf("unexpected PutObject log line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"debug"`) || !strings.Contains(lines[1], `"not_found":true`) {
		t.Errorf("unexpected GetRef log line %s", lines[1])
	}
}
