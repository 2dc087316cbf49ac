package main

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/bobg/subcmd"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/store/mem"
)

// TestSubcmdSignatures checks each subcommand function against its declared params,
// since subcmd.Run only discovers a mismatch when the subcommand is invoked.
func TestSubcmdSignatures(t *testing.T) {
	var (
		c       = maincmd{logger: zerolog.Nop()}
		ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
		errType = reflect.TypeOf((*error)(nil)).Elem()
		types   = map[subcmd.Type]reflect.Type{
			subcmd.Bool:    reflect.TypeOf(false),
			subcmd.Int:     reflect.TypeOf(0),
			subcmd.String:  reflect.TypeOf(""),
			subcmd.Float64: reflect.TypeOf(0.0),
		}
	)

	for name, sc := range c.Subcmds() {
		ft := reflect.TypeOf(sc.F)
		if ft.Kind() != reflect.Func {
			t.Errorf("%s: got %s, want a function", name, ft.Kind())
			continue
		}
		if want := len(sc.Params) + 2; ft.NumIn() != want {
			t.Errorf("%s: function takes %d args, want %d", name, ft.NumIn(), want)
			continue
		}
		if ft.In(0) != ctxType {
			t.Errorf("%s: first arg is %s, want context.Context", name, ft.In(0))
		}
		for i, p := range sc.Params {
			if want := types[p.Type]; ft.In(i+1) != want {
				t.Errorf("%s: arg for -%s is %s, want %s", name, p.Name, ft.In(i+1), want)
			}
		}
		if last := ft.In(ft.NumIn() - 1); last != reflect.TypeOf([]string(nil)) {
			t.Errorf("%s: last arg is %s, want []string", name, last)
		}
		if ft.NumOut() != 1 || ft.Out(0) != errType {
			t.Errorf("%s: want a single error result", name)
		}
	}
}

func TestRun(t *testing.T) {
	var (
		ctx = context.Background()
		c   = maincmd{
			s:      objstore.New(mem.New()),
			logger: zerolog.Nop(),
		}
	)

	err := subcmd.Run(ctx, c, []string{"resolve", "greeting"})
	if !errors.Is(err, lineage.ErrNotFound) {
		t.Fatalf("got %v resolving a missing ref, want ErrNotFound", err)
	}

	err = subcmd.Run(ctx, c, []string{
		"derive",
		"-transform", `{"operation":"add_field","changes":[{"path":"greeting","add":"hello"}]}`,
		"-caps", "greet, wave",
		"-ref", "greeting",
	})
	if err != nil {
		t.Fatal(err)
	}

	h, err := c.s.ResolveRef(ctx, "file", "greeting")
	if err != nil {
		t.Fatal(err)
	}
	obj, err := c.s.Get(ctx, "file", h)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(obj.Content); got != `{"greeting":"hello"}` {
		t.Errorf("got derived content %s", got)
	}

	if err = subcmd.Run(ctx, c, []string{"ref", "-type", "file", "other", h.String()}); err != nil {
		t.Fatal(err)
	}
	if err = subcmd.Run(ctx, c, []string{"capable", "-caps", "wave"}); err != nil {
		t.Fatal(err)
	}
	if err = subcmd.Run(ctx, c, []string{"ref", "onlyname"}); err == nil {
		t.Error("got no error for ref with a missing hash")
	}
}
