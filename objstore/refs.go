package objstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
)

// CreateRef points the ref called name at h,
// replacing whatever it pointed at before.
// The object need not exist.
func (s *Store) CreateRef(ctx context.Context, typ lineage.ObjectType, name string, h lineage.Hash) error {
	if err := typ.Check(); err != nil {
		return err
	}
	if err := lineage.CheckRefName(name); err != nil {
		return err
	}
	err := s.b.PutRef(ctx, typ, name, h)
	if err == nil {
		s.logger.Debug().Str("type", string(typ)).Str("ref", name).Stringer("hash", h).Msg("set ref")
	}
	return errors.Wrapf(err, "setting ref %s", name)
}

// ResolveRef returns the hash the ref called name points at,
// or lineage.ErrNotFound.
func (s *Store) ResolveRef(ctx context.Context, typ lineage.ObjectType, name string) (lineage.Hash, error) {
	if err := lineage.CheckRefName(name); err != nil {
		return lineage.Zero, err
	}
	h, err := s.b.GetRef(ctx, typ, name)
	return h, errors.Wrapf(err, "resolving ref %s", name)
}

// ListRefs calls f for each ref of type typ, in order by name.
func (s *Store) ListRefs(ctx context.Context, typ lineage.ObjectType, f func(string, lineage.Hash) error) error {
	return s.b.ListRefs(ctx, typ, f)
}
