package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/derive"
	"github.com/bobg/lineage/replay"
	"github.com/bobg/lineage/transform"
)

// index produces the derivation index for typ:
// the configured persistent one,
// or else one built in memory from the stored derivations.
func (c maincmd) index(ctx context.Context, typ lineage.ObjectType) (dag.Index, error) {
	if c.x != nil {
		return c.x, nil
	}
	x, err := dag.Load(ctx, c.s, typ)
	return x, errors.Wrap(err, "loading derivation index")
}

func (c maincmd) graph(ctx context.Context, typ lineage.ObjectType, opts ...dag.Option) (*dag.Graph, error) {
	x, err := c.index(ctx, typ)
	if err != nil {
		return nil, err
	}
	return dag.New(c.s, x, typ, opts...), nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// derive creates a new object from the parents named in args,
// each given as HASH[:RELATION[:BRANCH]], where HASH may be a ref name.
func (c maincmd) derive(ctx context.Context, typ, transstr, caps, intent, author, ref string, args []string) error {
	var (
		otyp      = lineage.ObjectType(typ)
		transdata []byte
		err       error
	)

	switch {
	case transstr == "":
		return errors.New("missing -transform")
	case strings.HasPrefix(transstr, "@"):
		transdata, err = os.ReadFile(transstr[1:])
		if err != nil {
			return errors.Wrap(err, "reading transformation")
		}
	default:
		transdata = []byte(transstr)
	}
	desc, err := transform.Parse(transdata)
	if err != nil {
		return err
	}

	req := derive.Request{
		Type:           otyp,
		Transformation: desc,
		Semantic:       lineage.Fingerprint{Capabilities: splitList(caps), Intent: splitList(intent)},
		Author:         author,
	}
	for _, p := range args {
		fields := strings.SplitN(p, ":", 3)
		h, err := c.hashOrRef(ctx, otyp, fields[0])
		if err != nil {
			return err
		}
		parent := derive.Parent{Hash: h}
		if len(fields) > 1 {
			parent.Relation = lineage.Relation(fields[1])
		}
		if len(fields) > 2 {
			parent.Branch = fields[2]
		}
		req.Parents = append(req.Parents, parent)
	}

	x, err := c.index(ctx, otyp)
	if err != nil {
		return err
	}
	e := derive.New(c.s, x, derive.WithLogger(c.logger))
	h, err := e.Create(ctx, req)
	if err != nil {
		return err
	}

	if ref != "" {
		if err = c.s.CreateRef(ctx, otyp, ref, h); err != nil {
			return err
		}
	}
	fmt.Println(h)
	return nil
}

// walk handles the ancestors and descendants subcommands.
func (c maincmd) walk(ctx context.Context, typ, hashstr string, depth int, up bool) error {
	h, err := c.hashOrRef(ctx, lineage.ObjectType(typ), hashstr)
	if err != nil {
		return err
	}
	g, err := c.graph(ctx, lineage.ObjectType(typ))
	if err != nil {
		return err
	}

	var hashes []lineage.Hash
	if up {
		hashes, err = g.Ancestors(ctx, h, depth)
	} else {
		hashes, err = g.Descendants(ctx, h, depth)
	}
	if err != nil {
		return err
	}
	printHashes(hashes)
	return nil
}

func printHashes(hashes []lineage.Hash) {
	for _, h := range hashes {
		fmt.Println(h)
	}
}

func (c maincmd) ancestors(ctx context.Context, typ, hashstr string, depth int, _ []string) error {
	return c.walk(ctx, typ, hashstr, depth, true)
}

func (c maincmd) descendants(ctx context.Context, typ, hashstr string, depth int, _ []string) error {
	return c.walk(ctx, typ, hashstr, depth, false)
}

func (c maincmd) siblings(ctx context.Context, typ, hashstr string, _ []string) error {
	h, err := c.hashOrRef(ctx, lineage.ObjectType(typ), hashstr)
	if err != nil {
		return err
	}
	g, err := c.graph(ctx, lineage.ObjectType(typ))
	if err != nil {
		return err
	}
	hashes, err := g.Siblings(ctx, h)
	if err != nil {
		return err
	}
	printHashes(hashes)
	return nil
}

func (c maincmd) common(ctx context.Context, typ, h1str, h2str string, earliest bool, _ []string) error {
	otyp := lineage.ObjectType(typ)
	h1, err := c.hashOrRef(ctx, otyp, h1str)
	if err != nil {
		return err
	}
	h2, err := c.hashOrRef(ctx, otyp, h2str)
	if err != nil {
		return err
	}

	tb := dag.ShortestPath
	if earliest {
		tb = dag.EarliestTimestamp
	}
	g, err := c.graph(ctx, otyp, dag.WithTieBreak(tb))
	if err != nil {
		return err
	}
	h, err := g.CommonAncestor(ctx, h1, h2)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func (c maincmd) neighbors(ctx context.Context, typ, hashstr string, threshold float64, max int, _ []string) error {
	h, err := c.hashOrRef(ctx, lineage.ObjectType(typ), hashstr)
	if err != nil {
		return err
	}
	g, err := c.graph(ctx, lineage.ObjectType(typ))
	if err != nil {
		return err
	}
	matches, err := g.SemanticNeighbors(ctx, h, threshold, max)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Printf("%s %s %.3f\n", m.Hash, m.SimHash, m.Score)
	}
	return nil
}

func (c maincmd) capable(ctx context.Context, typ, caps string, _ []string) error {
	g, err := c.graph(ctx, lineage.ObjectType(typ))
	if err != nil {
		return err
	}
	hashes, err := g.CapabilitySearch(ctx, splitList(caps))
	if err != nil {
		return err
	}
	printHashes(hashes)
	return nil
}

func (c maincmd) path(ctx context.Context, typ, fromstr, tostr string, _ []string) error {
	otyp := lineage.ObjectType(typ)
	from, err := c.hashOrRef(ctx, otyp, fromstr)
	if err != nil {
		return err
	}
	to, err := c.hashOrRef(ctx, otyp, tostr)
	if err != nil {
		return err
	}
	g, err := c.graph(ctx, otyp)
	if err != nil {
		return err
	}
	hashes, err := g.EvolutionPath(ctx, from, to)
	if err != nil {
		return err
	}
	printHashes(hashes)
	return nil
}

func (c maincmd) diff(ctx context.Context, typ, h1str, h2str string, _ []string) error {
	otyp := lineage.ObjectType(typ)
	h1, err := c.hashOrRef(ctx, otyp, h1str)
	if err != nil {
		return err
	}
	h2, err := c.hashOrRef(ctx, otyp, h2str)
	if err != nil {
		return err
	}
	g, err := c.graph(ctx, otyp)
	if err != nil {
		return err
	}
	d, err := g.DiffSemantic(ctx, h1, h2)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func (c maincmd) reconstruct(ctx context.Context, typ, hashstr string, _ []string) error {
	otyp := lineage.ObjectType(typ)
	h, err := c.hashOrRef(ctx, otyp, hashstr)
	if err != nil {
		return err
	}
	x, err := c.index(ctx, otyp)
	if err != nil {
		return err
	}
	res, err := replay.New(c.s, x, replay.WithLogger(c.logger)).Reconstruct(ctx, otyp, h)
	if err != nil {
		return err
	}
	c.logger.Info().Bool("direct", res.Direct).Int("steps", len(res.Steps)).Msg("reconstructed")
	_, err = os.Stdout.Write(res.Content)
	return errors.Wrap(err, "writing content to stdout")
}
