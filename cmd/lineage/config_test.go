package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobg/lineage/index/sqlindex"
	"github.com/bobg/lineage/store/file"
	"github.com/bobg/lineage/store/logging"
)

func TestConfig(t *testing.T) {
	dir, err := os.MkdirTemp("", "lineagecmd")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	confPath := filepath.Join(dir, "lineage.yaml")
	conf := `
type: mem
cache: 10
compress: lzw
log: true
json_types: [schema]
index:
  type: sqlite3
  conn: ` + filepath.Join(dir, "index.db") + `
`
	if err = os.WriteFile(confPath, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	v, err := loadConfig(confPath)
	if err != nil {
		t.Fatal(err)
	}

	b, err := backendFromConfig(ctx, v, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*logging.Backend); !ok {
		t.Errorf("got backend of type %T, want *logging.Backend", b)
	}

	x, err := indexFromConfig(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	sx, ok := x.(*sqlindex.Index)
	if !ok {
		t.Fatalf("got index of type %T, want *sqlindex.Index", x)
	}
	defer sx.DB().Close()

	if got := v.GetStringSlice(cfgKeyJSONTypes); len(got) != 1 || got[0] != "schema" {
		t.Errorf("got json_types %v", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	dir, err := os.MkdirTemp("", "lineagecmd")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	t.Setenv("LINEAGE_ROOT", dir)

	v, err := loadConfig(filepath.Join(dir, "empty.json"))
	if err == nil {
		t.Fatal("got no error for a missing explicit config file")
	}

	confPath := filepath.Join(dir, "empty.json")
	if err = os.WriteFile(confPath, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	v, err = loadConfig(confPath)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	b, err := backendFromConfig(ctx, v, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	fb, ok := b.(*file.Backend)
	if !ok {
		t.Fatalf("got backend of type %T, want *file.Backend", b)
	}
	if fb.Root() != dir {
		t.Errorf("got root %s, want %s from the environment", fb.Root(), dir)
	}

	x, err := indexFromConfig(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	if x != nil {
		t.Errorf("got index %T, want none", x)
	}
}
