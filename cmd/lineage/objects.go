package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
)

// hashOrRef interprets s as a hex-encoded hash if it looks like one,
// else as the name of a ref.
func (c maincmd) hashOrRef(ctx context.Context, typ lineage.ObjectType, s string) (lineage.Hash, error) {
	if s == "" {
		return lineage.Zero, errors.New("missing hash or ref name")
	}
	if len(s) == 2*lineage.HashSize {
		if h, err := lineage.HashFromHex(s); err == nil {
			return h, nil
		}
	}
	h, err := c.s.ResolveRef(ctx, typ, s)
	return h, errors.Wrapf(err, "resolving %s", s)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing output")
}

func (c maincmd) put(ctx context.Context, typ, metastr, ref string, _ []string) error {
	var extra map[string]interface{}
	if metastr != "" {
		if err := json.Unmarshal([]byte(metastr), &extra); err != nil {
			return errors.Wrap(err, "parsing -meta")
		}
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}
	meta, added, err := c.s.Put(ctx, content, lineage.ObjectType(typ), extra)
	if err != nil {
		return errors.Wrap(err, "storing object")
	}

	if ref != "" {
		if err = c.s.CreateRef(ctx, lineage.ObjectType(typ), ref, meta.ExactHash); err != nil {
			return err
		}
	}

	c.logger.Info().Bool("added", added).Msg("stored")
	fmt.Printf("%s %s\n", meta.ExactHash, meta.SimilarityHash)
	return nil
}

func (c maincmd) get(ctx context.Context, typ, hashstr string, metaOnly bool, _ []string) error {
	h, err := c.hashOrRef(ctx, lineage.ObjectType(typ), hashstr)
	if err != nil {
		return err
	}
	if metaOnly {
		meta, err := c.s.Metadata(ctx, lineage.ObjectType(typ), h)
		if err != nil {
			return errors.Wrapf(err, "getting metadata of %s", h)
		}
		return printJSON(meta)
	}
	obj, err := c.s.Get(ctx, lineage.ObjectType(typ), h)
	if err != nil {
		return errors.Wrapf(err, "getting %s", h)
	}
	_, err = os.Stdout.Write(obj.Content)
	return errors.Wrap(err, "writing content to stdout")
}

func (c maincmd) similar(ctx context.Context, typ, hashstr, simstr string, threshold float64, max int, _ []string) error {
	if (hashstr == "") == (simstr == "") {
		return errors.New("must supply one of -hash or -simhash")
	}

	var q lineage.SimHash
	if simstr != "" {
		var err error
		if q, err = lineage.SimHashFromHex(simstr); err != nil {
			return err
		}
	} else {
		h, err := c.hashOrRef(ctx, lineage.ObjectType(typ), hashstr)
		if err != nil {
			return err
		}
		meta, err := c.s.Metadata(ctx, lineage.ObjectType(typ), h)
		if err != nil {
			return errors.Wrapf(err, "getting metadata of %s", h)
		}
		q = meta.SimilarityHash
	}

	matches, err := c.s.FindSimilar(ctx, lineage.ObjectType(typ), q, threshold, max)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Printf("%s %s %.3f\n", m.Hash, m.SimHash, m.Score)
	}
	return nil
}

func (c maincmd) ref(ctx context.Context, typ string, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: ref [-type TYPE] NAME HASH")
	}
	h, err := lineage.HashFromHex(args[1])
	if err != nil {
		return err
	}
	return c.s.CreateRef(ctx, lineage.ObjectType(typ), args[0], h)
}

func (c maincmd) resolve(ctx context.Context, typ string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: resolve [-type TYPE] NAME")
	}
	h, err := c.s.ResolveRef(ctx, lineage.ObjectType(typ), args[0])
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func (c maincmd) refs(ctx context.Context, typ string, _ []string) error {
	return c.s.ListRefs(ctx, lineage.ObjectType(typ), func(name string, h lineage.Hash) error {
		fmt.Printf("%s %s\n", h, name)
		return nil
	})
}

func (c maincmd) reindex(ctx context.Context, typ string, _ []string) error {
	n, err := c.s.Reindex(ctx, lineage.ObjectType(typ))
	if err != nil {
		return errors.Wrap(err, "reindexing similarity buckets")
	}
	c.logger.Info().Int("entries", n).Msg("similarity index repaired")

	if c.x == nil {
		return nil
	}
	n, err = dag.Rebuild(ctx, c.s, c.x, lineage.ObjectType(typ))
	if err != nil {
		return err
	}
	c.logger.Info().Int("derivations", n).Msg("derivation index rebuilt")
	return nil
}
