// Package derive creates objects by applying transformations to their parents
// and records how each one was made.
package derive

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/transform"
)

// Engine creates derived objects.
type Engine struct {
	s      *objstore.Store
	x      dag.Index
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the Engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New produces an Engine that stores objects and derivations in s
// and keeps x current.
// The Engine consults x to reject cycles,
// so x must already reflect the existing derivations of any type the Engine will handle
// (see dag.Load and dag.Rebuild).
func New(s *objstore.Store, x dag.Index, opts ...Option) *Engine {
	e := &Engine{s: s, x: x, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parent names one parent in a Request.
type Parent struct {
	Hash     lineage.Hash
	Relation lineage.Relation // empty means lineage.Derives
	Branch   string
}

// Request describes a derivation to create.
type Request struct {
	Type           lineage.ObjectType
	Parents        []Parent
	Transformation transform.Descriptor
	Semantic       lineage.Fingerprint
	Author         string

	// Metadata is caller metadata for the derived object.
	Metadata map[string]interface{}
}

// Create applies req's transformation to the contents of req's parents,
// stores the result,
// and records a Derivation for it.
// It returns the exact hash of the result.
//
// The Derivation is persisted before the object it describes.
// Deriving content that already has a Derivation is a no-op
// (apart from ensuring the object is stored and indexed):
// the first record wins.
//
// Errors from the transformation are wrapped with its kind and the parent hashes.
// If the result would be its own ancestor, the error is lineage.ErrCycle.
func (e *Engine) Create(ctx context.Context, req Request) (lineage.Hash, error) {
	if err := req.Type.Check(); err != nil {
		return lineage.Zero, err
	}
	if req.Transformation.Op == nil {
		return lineage.Zero, &transform.ConfigError{Msg: "empty descriptor"}
	}
	for i, p := range req.Parents {
		if p.Relation != "" && !p.Relation.Valid() {
			return lineage.Zero, fmt.Errorf("parent %d: unknown relation %q", i, p.Relation)
		}
	}

	parents, err := e.load(ctx, req.Type, req.Parents)
	if err != nil {
		return lineage.Zero, err
	}

	contents := make([][]byte, 0, len(parents))
	for _, obj := range parents {
		contents = append(contents, obj.Content)
	}
	result, err := transform.Apply(contents, req.Transformation)
	if err != nil {
		return lineage.Zero, errors.Wrapf(err, "applying %s to [%s]", req.Transformation.Kind(), hashList(req.Parents))
	}

	m := e.s.Measure(req.Type, result)
	if err = e.checkCycle(ctx, req.Type, m.Hash, req.Parents); err != nil {
		return lineage.Zero, err
	}

	d := &lineage.Derivation{
		ObjectHash:     m.Hash,
		ObjectType:     req.Type,
		Parents:        make([]lineage.ParentRef, 0, len(req.Parents)),
		Transformation: req.Transformation,
		Semantic:       req.Semantic,
		Entropy:        m.Entropy,
		Negentropy:     m.Negentropy,
		Timestamp:      e.s.Now(),
		Author:         req.Author,
	}
	for i, p := range req.Parents {
		rel := p.Relation
		if rel == "" {
			rel = lineage.Derives
		}
		d.Parents = append(d.Parents, lineage.ParentRef{
			Hash:       p.Hash,
			Relation:   rel,
			Similarity: m.SimHash.Agreement(parents[i].Metadata.SimilarityHash),
			Branch:     p.Branch,
		})
	}

	id, added, err := e.s.PutDerivation(ctx, d)
	if err != nil {
		return lineage.Zero, err
	}
	if !added {
		if d, err = e.s.Derivation(ctx, req.Type, m.Hash); err != nil {
			return lineage.Zero, err
		}
	}

	if _, _, err = e.s.PutDerived(ctx, result, req.Type, req.Metadata, id); err != nil {
		return lineage.Zero, err
	}
	if err = e.x.Add(ctx, d); err != nil {
		return lineage.Zero, errors.Wrapf(err, "indexing derivation of %s", m.Hash)
	}

	e.logger.Info().
		Str("type", string(req.Type)).
		Stringer("hash", m.Hash).
		Stringer("derivation", id).
		Str("operation", string(req.Transformation.Kind())).
		Int("parents", len(req.Parents)).
		Bool("added", added).
		Msg("derived object")

	return m.Hash, nil
}

// load fetches the parents concurrently, in order.
func (e *Engine) load(ctx context.Context, typ lineage.ObjectType, parents []Parent) ([]*lineage.Object, error) {
	hashes := make([]lineage.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, p.Hash)
	}

	objs, err := e.s.GetMulti(ctx, typ, hashes)
	var merr objstore.MultiErr
	if err != nil && !errors.As(err, &merr) {
		return nil, err
	}

	out := make([]*lineage.Object, 0, len(parents))
	for i, p := range parents {
		if err := merr[p.Hash]; err != nil {
			return nil, errors.Wrapf(err, "loading parent %d", i)
		}
		out = append(out, objs[p.Hash])
	}
	return out, nil
}

// checkCycle reports lineage.ErrCycle if h is one of the parents
// or an ancestor of one.
func (e *Engine) checkCycle(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, parents []Parent) error {
	g := dag.New(e.s, e.x, typ)
	for _, p := range parents {
		if p.Hash == h {
			return errors.Wrapf(lineage.ErrCycle, "%s would be derived from itself", h)
		}
		ancestors, err := g.Ancestors(ctx, p.Hash, 0)
		if err != nil {
			return errors.Wrapf(err, "computing ancestors of %s", p.Hash)
		}
		for _, a := range ancestors {
			if a == h {
				return errors.Wrapf(lineage.ErrCycle, "%s is an ancestor of its parent %s", h, p.Hash)
			}
		}
	}
	return nil
}

func hashList(parents []Parent) string {
	strs := make([]string, 0, len(parents))
	for _, p := range parents {
		strs = append(strs, p.Hash.String())
	}
	return strings.Join(strs, " ")
}
