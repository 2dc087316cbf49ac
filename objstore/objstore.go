// Package objstore implements the object store:
// content-addressed objects with computed metadata,
// the similarity index they feed,
// refs,
// and persistence of derivation records.
// It works over any lineage.Backend.
package objstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/hashing"
	"github.com/bobg/lineage/pattern"
	"github.com/bobg/lineage/simindex"
)

// Store is an object store.
type Store struct {
	b        lineage.Backend
	idx      *simindex.Index
	patterns *pattern.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPatterns sets the registry of patterns
// used to compute structural features of content.
// Without one, only byte-level features are computed.
func WithPatterns(r *pattern.Registry) Option {
	return func(s *Store) { s.patterns = r }
}

// WithLogger sets the Store's logger.
// The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the source of creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New produces a new Store over the given backend.
func New(b lineage.Backend, opts ...Option) *Store {
	s := &Store{
		b:      b,
		idx:    simindex.New(b),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend is the backend beneath s.
func (s *Store) Backend() lineage.Backend {
	return s.b
}

// Now is the current time according to s's clock.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Measure computes the measurements of content as an object of type typ,
// using the pattern registered for typ if there is one.
// Content that the pattern cannot parse is measured at the byte level only.
func (s *Store) Measure(typ lineage.ObjectType, content []byte) hashing.Measurement {
	st, err := s.patterns.Structure(typ, content)
	if err != nil {
		s.logger.Debug().Err(err).Str("type", string(typ)).Msg("falling back to byte-level features")
		st = nil
	}
	return hashing.Measure(content, st)
}

// Put stores content as an object of type typ,
// with extra as caller-supplied metadata.
// If the object is already present,
// nothing is written and the stored metadata is returned,
// with added false.
// Either way the object's similarity index entry is ensured.
func (s *Store) Put(ctx context.Context, content []byte, typ lineage.ObjectType, extra map[string]interface{}) (*lineage.Metadata, bool, error) {
	return s.put(ctx, content, typ, extra, nil)
}

// PutDerived is like Put
// but records in the object's metadata the ID of the Derivation record that produced it.
// Metadata is written only with the first copy of an object,
// so content that was already stored (by Put or by another derivation)
// keeps its original metadata and gets no back-reference.
// The Derivation record itself is still findable by object hash.
func (s *Store) PutDerived(ctx context.Context, content []byte, typ lineage.ObjectType, extra map[string]interface{}, derivationID lineage.Hash) (*lineage.Metadata, bool, error) {
	return s.put(ctx, content, typ, extra, &derivationID)
}

func (s *Store) put(ctx context.Context, content []byte, typ lineage.ObjectType, extra map[string]interface{}, derivationID *lineage.Hash) (*lineage.Metadata, bool, error) {
	if err := typ.Check(); err != nil {
		return nil, false, err
	}

	m := s.Measure(typ, content)
	meta := &lineage.Metadata{
		ExactHash:          m.Hash,
		SimilarityHash:     m.SimHash,
		ObjectType:         typ,
		CreatedAt:          s.Now(),
		SizeBytes:          m.Size,
		Entropy:            m.Entropy,
		Negentropy:         m.Negentropy,
		StructuralFeatures: m.Features,
		Derivation:         derivationID,
		Extra:              extra,
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, false, errors.Wrapf(err, "encoding metadata of %s", m.Hash)
	}

	if content == nil {
		content = []byte{}
	}
	added, err := s.b.PutObject(ctx, typ, m.Hash, content, encoded)
	if err != nil {
		return nil, false, errors.Wrapf(err, "storing %s", m.Hash)
	}
	if !added {
		meta, err = s.Metadata(ctx, typ, m.Hash)
		if err != nil {
			return nil, false, errors.Wrapf(err, "loading metadata of existing object %s", m.Hash)
		}
	}

	if _, err = s.idx.Add(ctx, typ, simindex.Entry{Hash: meta.ExactHash, SimHash: meta.SimilarityHash}); err != nil {
		return nil, false, err
	}

	s.logger.Debug().
		Str("type", string(typ)).
		Stringer("hash", meta.ExactHash).
		Stringer("simhash", meta.SimilarityHash).
		Bool("added", added).
		Msg("put object")

	return meta, added, nil
}

// Get loads the object of type typ with exact hash h.
// It returns lineage.ErrNotFound if there is none.
func (s *Store) Get(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) (*lineage.Object, error) {
	content, encoded, err := s.b.GetObject(ctx, typ, h)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s/%s", typ, h)
	}
	meta, err := decodeMetadata(encoded)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s/%s", typ, h)
	}
	if content == nil {
		content = []byte{}
	}
	return &lineage.Object{Content: content, Metadata: meta}, nil
}

// Metadata loads just the metadata of an object,
// without reading its content.
func (s *Store) Metadata(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) (*lineage.Metadata, error) {
	encoded, err := s.b.GetMetadata(ctx, typ, h)
	if err != nil {
		return nil, errors.Wrapf(err, "loading metadata of %s/%s", typ, h)
	}
	meta, err := decodeMetadata(encoded)
	return meta, errors.Wrapf(err, "in %s/%s", typ, h)
}

func decodeMetadata(b []byte) (*lineage.Metadata, error) {
	var m lineage.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Contains tells whether the object of type typ with exact hash h is stored directly.
func (s *Store) Contains(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) (bool, error) {
	_, err := s.b.GetMetadata(ctx, typ, h)
	if errors.Is(err, lineage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListObjects calls f for the hash of each stored object of type typ,
// in lexicographic order.
func (s *Store) ListObjects(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	return s.b.ListObjects(ctx, typ, f)
}

// FindSimilar returns objects of type typ whose similarity hashes
// agree with q in at least the fraction threshold of their hex digits.
// Only q's bucket is searched.
// Results are best first, ties broken by exact hash.
// If max is positive, at most max results are returned.
func (s *Store) FindSimilar(ctx context.Context, typ lineage.ObjectType, q lineage.SimHash, threshold float64, max int) ([]simindex.Match, error) {
	if threshold < 0 || threshold > 1 {
		return nil, errors.Errorf("threshold %v out of range [0,1]", threshold)
	}
	return s.idx.Find(ctx, typ, q, threshold, max)
}

// Reindex ensures every stored object of type typ has its similarity index entry.
// It returns the number of entries that had to be added.
func (s *Store) Reindex(ctx context.Context, typ lineage.ObjectType) (int, error) {
	var n int
	err := s.b.ListObjects(ctx, typ, func(h lineage.Hash) error {
		meta, err := s.Metadata(ctx, typ, h)
		if err != nil {
			return err
		}
		added, err := s.idx.Add(ctx, typ, simindex.Entry{Hash: h, SimHash: meta.SimilarityHash})
		if err != nil {
			return err
		}
		if added {
			n++
		}
		return nil
	})
	if err == nil {
		s.logger.Info().Str("type", string(typ)).Int("added", n).Msg("reindexed")
	}
	return n, err
}
