// Package compress implements a backend that compresses and uncompresses data
// on its way into and out of a nested backend.
// Objects are still keyed by the hash of their uncompressed content,
// and readers see exactly the bytes that were written.
package compress

import (
	"compress/lzw"
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

// Compressor compresses and uncompresses byte slices.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Uncompress([]byte) ([]byte, error)
}

// Backend compresses object content, metadata, similarity buckets,
// and derivation records stored in a nested backend.
// Refs pass through unchanged.
type Backend struct {
	lineage.RefBackend
	b lineage.Backend
	c Compressor
}

// New produces a new Backend storing data in b, compressed with c.
func New(b lineage.Backend, c Compressor) *Backend {
	return &Backend{RefBackend: b, b: b, c: c}
}

// PutObject implements lineage.ObjectBackend.
func (b *Backend) PutObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	cc, err := b.c.Compress(content)
	if err != nil {
		return false, errors.Wrapf(err, "compressing content of %s", h)
	}
	cm, err := b.c.Compress(metadata)
	if err != nil {
		return false, errors.Wrapf(err, "compressing metadata of %s", h)
	}
	return b.b.PutObject(ctx, typ, h, cc, cm)
}

// GetObject implements lineage.ObjectBackend.
func (b *Backend) GetObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	cc, cm, err := b.b.GetObject(ctx, typ, h)
	if err != nil {
		return nil, nil, err
	}
	content, err := b.c.Uncompress(cc)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "uncompressing content of %s", h)
	}
	metadata, err := b.c.Uncompress(cm)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "uncompressing metadata of %s", h)
	}
	return content, metadata, nil
}

// GetMetadata implements lineage.ObjectBackend.
func (b *Backend) GetMetadata(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	cm, err := b.b.GetMetadata(ctx, typ, h)
	if err != nil {
		return nil, err
	}
	metadata, err := b.c.Uncompress(cm)
	return metadata, errors.Wrapf(err, "uncompressing metadata of %s", h)
}

// ListObjects implements lineage.ObjectBackend.
func (b *Backend) ListObjects(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	return b.b.ListObjects(ctx, typ, f)
}

// GetBucket implements lineage.BucketBackend.
func (b *Backend) GetBucket(ctx context.Context, typ lineage.ObjectType, bucket string) ([]byte, error) {
	got, err := b.b.GetBucket(ctx, typ, bucket)
	if err != nil {
		return nil, err
	}
	out, err := b.c.Uncompress(got)
	return out, errors.Wrapf(err, "uncompressing bucket %s", bucket)
}

// UpdateBucket implements lineage.BucketBackend.
func (b *Backend) UpdateBucket(ctx context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error {
	return b.b.UpdateBucket(ctx, typ, bucket, func(old []byte) ([]byte, error) {
		if old != nil {
			var err error
			if old, err = b.c.Uncompress(old); err != nil {
				return nil, errors.Wrapf(err, "uncompressing bucket %s", bucket)
			}
		}
		updated, err := f(old)
		if err != nil {
			return nil, err
		}
		return b.c.Compress(updated)
	})
}

// PutDerivation implements lineage.DerivationBackend.
func (b *Backend) PutDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, rec []byte) (bool, error) {
	crec, err := b.c.Compress(rec)
	if err != nil {
		return false, errors.Wrapf(err, "compressing derivation of %s", h)
	}
	return b.b.PutDerivation(ctx, typ, h, crec)
}

// GetDerivation implements lineage.DerivationBackend.
func (b *Backend) GetDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	crec, err := b.b.GetDerivation(ctx, typ, h)
	if err != nil {
		return nil, err
	}
	rec, err := b.c.Uncompress(crec)
	return rec, errors.Wrapf(err, "uncompressing derivation of %s", h)
}

// ListDerivations implements lineage.DerivationBackend.
func (b *Backend) ListDerivations(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash, []byte) error) error {
	return b.b.ListDerivations(ctx, typ, func(h lineage.Hash, crec []byte) error {
		rec, err := b.c.Uncompress(crec)
		if err != nil {
			return errors.Wrapf(err, "uncompressing derivation of %s", h)
		}
		return f(h, rec)
	})
}

// Register installs "compress" in r.
// Its config takes a "nested" backend config
// and an optional "algorithm", "flate" (the default) or "lzw".
func Register(r *store.Registry) {
	r.Register("compress", func(ctx context.Context, conf map[string]interface{}) (lineage.Backend, error) {
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

		alg, _ := conf["algorithm"].(string)
		c, err := Named(alg)
		if err != nil {
			return nil, err
		}
		return New(nestedBackend, c), nil
	})
}

// Named produces the Compressor for the algorithm named alg:
// "flate" (also the empty string) or "lzw".
func Named(alg string) (Compressor, error) {
	switch alg {
	case "", "flate":
		return Flate{Level: -1}, nil
	case "lzw":
		return LZW{Order: lzw.LSB}, nil
	}
	return nil, errors.Errorf("unknown compression algorithm %s", alg)
}
