// Package logging implements a backend that delegates everything to a nested backend,
// logging operations as they happen.
package logging

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

// Backend wraps a lineage.Backend and logs every call.
// Successful calls log at debug level, failures at error level.
// Not-found results are not failures.
type Backend struct {
	b      lineage.Backend
	logger zerolog.Logger
}

// New produces a new Backend wrapping b and logging to logger.
func New(b lineage.Backend, logger zerolog.Logger) *Backend {
	return &Backend{b: b, logger: logger}
}

func (b *Backend) event(err error) *zerolog.Event {
	if err != nil && !errors.Is(err, lineage.ErrNotFound) {
		return b.logger.Error().Err(err)
	}
	if err != nil {
		return b.logger.Debug().Bool("not_found", true)
	}
	return b.logger.Debug()
}

func (b *Backend) PutObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	added, err := b.b.PutObject(ctx, typ, h, content, metadata)
	b.event(err).Str("type", string(typ)).Stringer("hash", h).Int("size", len(content)).Bool("added", added).Msg("PutObject")
	return added, err
}

func (b *Backend) GetObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	content, metadata, err := b.b.GetObject(ctx, typ, h)
	b.event(err).Str("type", string(typ)).Stringer("hash", h).Msg("GetObject")
	return content, metadata, err
}

func (b *Backend) GetMetadata(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	metadata, err := b.b.GetMetadata(ctx, typ, h)
	b.event(err).Str("type", string(typ)).Stringer("hash", h).Msg("GetMetadata")
	return metadata, err
}

func (b *Backend) ListObjects(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	var n int
	err := b.b.ListObjects(ctx, typ, func(h lineage.Hash) error {
		n++
		return f(h)
	})
	b.event(err).Str("type", string(typ)).Int("count", n).Msg("ListObjects")
	return err
}

func (b *Backend) GetBucket(ctx context.Context, typ lineage.ObjectType, bucket string) ([]byte, error) {
	data, err := b.b.GetBucket(ctx, typ, bucket)
	b.event(err).Str("type", string(typ)).Str("bucket", bucket).Int("size", len(data)).Msg("GetBucket")
	return data, err
}

func (b *Backend) UpdateBucket(ctx context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error {
	var size int
	err := b.b.UpdateBucket(ctx, typ, bucket, func(old []byte) ([]byte, error) {
		updated, err := f(old)
		size = len(updated)
		return updated, err
	})
	b.event(err).Str("type", string(typ)).Str("bucket", bucket).Int("size", size).Msg("UpdateBucket")
	return err
}

func (b *Backend) PutRef(ctx context.Context, typ lineage.ObjectType, name string, h lineage.Hash) error {
	err := b.b.PutRef(ctx, typ, name, h)
	b.event(err).Str("type", string(typ)).Str("name", name).Stringer("hash", h).Msg("PutRef")
	return err
}

func (b *Backend) GetRef(ctx context.Context, typ lineage.ObjectType, name string) (lineage.Hash, error) {
	h, err := b.b.GetRef(ctx, typ, name)
	b.event(err).Str("type", string(typ)).Str("name", name).Stringer("hash", h).Msg("GetRef")
	return h, err
}

func (b *Backend) ListRefs(ctx context.Context, typ lineage.ObjectType, f func(string, lineage.Hash) error) error {
	var n int
	err := b.b.ListRefs(ctx, typ, func(name string, h lineage.Hash) error {
		n++
		return f(name, h)
	})
	b.event(err).Str("type", string(typ)).Int("count", n).Msg("ListRefs")
	return err
}

func (b *Backend) PutDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, rec []byte) (bool, error) {
	added, err := b.b.PutDerivation(ctx, typ, h, rec)
	b.event(err).Str("type", string(typ)).Stringer("hash", h).Bool("added", added).Msg("PutDerivation")
	return added, err
}

func (b *Backend) GetDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	rec, err := b.b.GetDerivation(ctx, typ, h)
	b.event(err).Str("type", string(typ)).Stringer("hash", h).Msg("GetDerivation")
	return rec, err
}

func (b *Backend) ListDerivations(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash, []byte) error) error {
	var n int
	err := b.b.ListDerivations(ctx, typ, func(h lineage.Hash, rec []byte) error {
		n++
		return f(h, rec)
	})
	b.event(err).Str("type", string(typ)).Int("count", n).Msg("ListDerivations")
	return err
}

// Register adds the "logging" backend type to r.
// Its config requires a "nested" backend config with its own "type".
// Log output goes to logger.
func Register(r *store.Registry, logger zerolog.Logger) {
	r.Register("logging", func(ctx context.Context, conf map[string]interface{}) (lineage.Backend, error) {
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedBackend, err := r.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested backend")
		}
		return New(nestedBackend, logger), nil
	})
}
