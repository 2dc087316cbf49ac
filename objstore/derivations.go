package objstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
)

// PutDerivation durably records d
// and returns its record ID.
// The first record for a given object hash wins:
// if one already exists, d is discarded
// and the existing record's ID is returned with added false.
func (s *Store) PutDerivation(ctx context.Context, d *lineage.Derivation) (id lineage.Hash, added bool, err error) {
	if err := d.ObjectType.Check(); err != nil {
		return lineage.Zero, false, err
	}
	d.Semantic.Normalize()
	d.Timestamp = d.Timestamp.UTC()

	rec, id, err := d.Encode()
	if err != nil {
		return lineage.Zero, false, err
	}
	added, err = s.b.PutDerivation(ctx, d.ObjectType, d.ObjectHash, rec)
	if err != nil {
		return lineage.Zero, false, errors.Wrapf(err, "storing derivation of %s", d.ObjectHash)
	}
	if !added {
		existing, err := s.b.GetDerivation(ctx, d.ObjectType, d.ObjectHash)
		if err != nil {
			return lineage.Zero, false, errors.Wrapf(err, "loading existing derivation of %s", d.ObjectHash)
		}
		id = lineage.ExactHash(existing)
	}
	return id, added, nil
}

// Derivation loads the Derivation record for the object of type typ with hash h.
// It returns lineage.ErrNotFound if h has none,
// which makes h a root.
func (s *Store) Derivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) (*lineage.Derivation, error) {
	rec, err := s.b.GetDerivation(ctx, typ, h)
	if err != nil {
		return nil, errors.Wrapf(err, "loading derivation of %s", h)
	}
	return lineage.DecodeDerivation(rec)
}

// ListDerivations calls f for each Derivation record of type typ,
// in order by object hash.
func (s *Store) ListDerivations(ctx context.Context, typ lineage.ObjectType, f func(*lineage.Derivation) error) error {
	return s.b.ListDerivations(ctx, typ, func(h lineage.Hash, rec []byte) error {
		d, err := lineage.DecodeDerivation(rec)
		if err != nil {
			return errors.Wrapf(err, "in derivation of %s", h)
		}
		return f(d)
	})
}
