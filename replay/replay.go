// Package replay reconstructs objects that are not stored directly
// by re-applying the transformations that derived them.
package replay

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/objstore"
	"github.com/bobg/lineage/transform"
)

// Replayer reconstructs objects.
type Replayer struct {
	s      *objstore.Store
	x      dag.Index
	logger zerolog.Logger
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLogger sets the Replayer's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Replayer) { r.logger = logger }
}

// New produces a Replayer over the objects and derivations in s,
// navigated via x.
func New(s *objstore.Store, x dag.Index, opts ...Option) *Replayer {
	r := &Replayer{s: s, x: x, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of Reconstruct.
type Result struct {
	Content []byte

	// Direct is true if the content was loaded rather than replayed.
	Direct bool

	// Steps lists the objects whose transformations were replayed
	// on the way from a root to the target, in order.
	// It ends with the target.
	Steps []lineage.Hash
}

// Reconstruct produces the content of the object of type typ with hash target.
//
// If the object is stored it is simply loaded.
// Otherwise Reconstruct finds a root among its ancestors
// whose content is available,
// and replays each transformation on the evolution path from that root to target.
// Other parents of a step
// (as in a merge)
// are loaded or reconstructed in turn.
//
// Every object produced along the way must hash to its expected value;
// if one does not, the error is a *lineage.IntegrityError.
// If target cannot be reached, the error is lineage.ErrNotFound.
func (r *Replayer) Reconstruct(ctx context.Context, typ lineage.ObjectType, target lineage.Hash) (*Result, error) {
	run := &run{
		Replayer: r,
		typ:      typ,
		g:        dag.New(r.s, r.x, typ),
		memo:     make(map[lineage.Hash][]byte),
	}
	return run.reconstruct(ctx, target)
}

type run struct {
	*Replayer
	typ  lineage.ObjectType
	g    *dag.Graph
	memo map[lineage.Hash][]byte
}

func (r *run) reconstruct(ctx context.Context, target lineage.Hash) (*Result, error) {
	content, ok, err := r.load(ctx, target)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Result{Content: content, Direct: true}, nil
	}

	parents, derived, err := r.g.Parents(ctx, target)
	if err != nil {
		return nil, err
	}
	if !derived {
		return nil, errors.Wrapf(lineage.ErrNotFound, "%s is neither stored nor derived", target)
	}
	if len(parents) == 0 {
		content, err := r.step(ctx, target, nil, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Content: content, Steps: []lineage.Hash{target}}, nil
	}

	ancestors, err := r.g.Ancestors(ctx, target, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range ancestors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		aparents, _, err := r.g.Parents(ctx, a)
		if err != nil {
			return nil, err
		}
		if len(aparents) > 0 {
			continue
		}

		base, err := r.base(ctx, a)
		if errors.Is(err, lineage.ErrNotFound) {
			r.logger.Debug().Stringer("root", a).Msg("root unavailable")
			continue
		}
		if err != nil {
			return nil, err
		}

		path, err := r.g.EvolutionPath(ctx, a, target)
		if err != nil {
			return nil, errors.Wrapf(err, "finding path from %s to %s", a, target)
		}

		var (
			cur   = base
			prev  = a
			steps = make([]lineage.Hash, 0, len(path)-1)
		)
		for _, h := range path[1:] {
			cur, err = r.step(ctx, h, &prev, cur)
			if err != nil {
				return nil, err
			}
			prev = h
			steps = append(steps, h)
		}

		r.logger.Debug().
			Str("type", string(r.typ)).
			Stringer("target", target).
			Stringer("root", a).
			Int("steps", len(steps)).
			Msg("reconstructed")

		return &Result{Content: cur, Steps: steps}, nil
	}

	return nil, errors.Wrapf(lineage.ErrNotFound, "no available root for %s", target)
}

// load returns the stored content of h, verified,
// with false if h is not stored.
func (r *run) load(ctx context.Context, h lineage.Hash) ([]byte, bool, error) {
	if content, ok := r.memo[h]; ok {
		return content, true, nil
	}
	obj, err := r.s.Get(ctx, r.typ, h)
	if errors.Is(err, lineage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err = verify(h, obj.Content); err != nil {
		return nil, false, err
	}
	r.memo[h] = obj.Content
	return obj.Content, true, nil
}

// base produces the content of a parentless object:
// loaded if it is stored,
// else replayed if it has a derivation.
func (r *run) base(ctx context.Context, h lineage.Hash) ([]byte, error) {
	content, ok, err := r.load(ctx, h)
	if err != nil || ok {
		return content, err
	}
	_, derived, err := r.g.Parents(ctx, h)
	if err != nil {
		return nil, err
	}
	if !derived {
		return nil, errors.Wrapf(lineage.ErrNotFound, "root %s", h)
	}
	return r.step(ctx, h, nil, nil)
}

// step replays the derivation of h.
// If prev is non-nil, the parent it names has content cur;
// all other parents are loaded or reconstructed.
func (r *run) step(ctx context.Context, h lineage.Hash, prev *lineage.Hash, cur []byte) ([]byte, error) {
	d, err := r.s.Derivation(ctx, r.typ, h)
	if err != nil {
		return nil, err
	}

	inputs := make([][]byte, 0, len(d.Parents))
	for _, p := range d.Parents {
		if prev != nil && p.Hash == *prev {
			inputs = append(inputs, cur)
			continue
		}
		res, err := r.reconstruct(ctx, p.Hash)
		if err != nil {
			return nil, errors.Wrapf(err, "reconstructing parent %s of %s", p.Hash, h)
		}
		inputs = append(inputs, res.Content)
	}

	out, err := transform.Apply(inputs, d.Transformation)
	if err != nil {
		return nil, errors.Wrapf(err, "replaying %s for %s", d.Transformation.Kind(), h)
	}
	if err = verify(h, out); err != nil {
		return nil, err
	}
	r.memo[h] = out
	return out, nil
}

func verify(want lineage.Hash, content []byte) error {
	if got := lineage.ExactHash(content); got != want {
		return &lineage.IntegrityError{Want: want, Got: got}
	}
	return nil
}
