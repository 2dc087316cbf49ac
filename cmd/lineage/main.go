// Command lineage is a CLI interface to a lineage object store:
// storing and loading objects,
// finding similar ones,
// managing refs,
// deriving new objects from old ones,
// and navigating and replaying their derivations.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/bobg/subcmd"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/pattern"
)

type maincmd struct {
	s      *objstore.Store
	x      dag.Index // nil means build an in-memory index per object type
	logger zerolog.Logger
}

func main() {
	var (
		config  = flag.String("config", "", "path to config file (default: lineage.yaml or lineage.json in the current directory)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	v, err := loadConfig(*config)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config")
	}

	b, err := backendFromConfig(ctx, v, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("creating backend")
	}

	x, err := indexFromConfig(ctx, v)
	if err != nil {
		logger.Fatal().Err(err).Msg("creating derivation index")
	}

	patterns := pattern.NewRegistry()
	for _, typ := range v.GetStringSlice(cfgKeyJSONTypes) {
		patterns.Register(lineage.ObjectType(typ), pattern.JSON{})
	}

	c := maincmd{
		s:      objstore.New(b, objstore.WithLogger(logger), objstore.WithPatterns(patterns)),
		x:      x,
		logger: logger,
	}

	if err = subcmd.Run(ctx, c, flag.Args()); err != nil {
		logger.Fatal().Err(err).Send()
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	typeParam := []interface{}{"type", subcmd.String, "file", "object type"}
	params := func(a ...interface{}) []subcmd.Param {
		return subcmd.Params(append(typeParam, a...)...)
	}

	return subcmd.Commands(
		"ancestors", c.ancestors, params(
			"hash", subcmd.String, "", "hash or ref name of starting object",
			"depth", subcmd.Int, 0, "maximum number of generations (0 for no limit)",
		),
		"capable", c.capable, params(
			"caps", subcmd.String, "", "capabilities to search for (comma-separated)",
		),
		"common", c.common, params(
			"hash1", subcmd.String, "", "hash or ref name of first object",
			"hash2", subcmd.String, "", "hash or ref name of second object",
			"earliest", subcmd.Bool, false, "prefer the earliest common ancestor over the nearest",
		),
		"derive", c.derive, params(
			"transform", subcmd.String, "", "transformation descriptor as JSON, or @FILE to read it from FILE",
			"caps", subcmd.String, "", "capabilities (comma-separated)",
			"intent", subcmd.String, "", "intent tags (comma-separated)",
			"author", subcmd.String, "", "author of the derivation",
			"ref", subcmd.String, "", "point this ref at the derived object",
		),
		"descendants", c.descendants, params(
			"hash", subcmd.String, "", "hash or ref name of starting object",
			"depth", subcmd.Int, 0, "maximum number of generations (0 for no limit)",
		),
		"diff", c.diff, params(
			"hash1", subcmd.String, "", "hash or ref name of first object",
			"hash2", subcmd.String, "", "hash or ref name of second object",
		),
		"get", c.get, params(
			"hash", subcmd.String, "", "hash or ref name of object to get",
			"meta", subcmd.Bool, false, "write metadata instead of content",
		),
		"neighbors", c.neighbors, params(
			"hash", subcmd.String, "", "hash or ref name of object",
			"threshold", subcmd.Float64, 0.75, "minimum fraction of matching hex digits",
			"max", subcmd.Int, 10, "maximum number of results (0 for all)",
		),
		"path", c.path, params(
			"from", subcmd.String, "", "hash or ref name of starting object",
			"to", subcmd.String, "", "hash or ref name of ending object",
		),
		"put", c.put, params(
			"meta", subcmd.String, "", "caller metadata, as a JSON object",
			"ref", subcmd.String, "", "point this ref at the stored object",
		),
		"reconstruct", c.reconstruct, params(
			"hash", subcmd.String, "", "hash or ref name of object to reconstruct",
		),
		"ref", c.ref, params(),
		"refs", c.refs, params(),
		"reindex", c.reindex, params(),
		"resolve", c.resolve, params(),
		"siblings", c.siblings, params(
			"hash", subcmd.String, "", "hash or ref name of object",
		),
		"similar", c.similar, params(
			"hash", subcmd.String, "", "hash or ref name of object whose similarity hash to query",
			"simhash", subcmd.String, "", "similarity hash to query",
			"threshold", subcmd.Float64, 0.75, "minimum fraction of matching hex digits",
			"max", subcmd.Int, 10, "maximum number of results (0 for all)",
		),
	)
}
