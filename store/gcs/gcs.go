// Package gcs implements a backend on Google Cloud Storage.
//
// Object names mirror the layout of the file backend,
// beneath an optional prefix.
// Create-if-absent writes use DoesNotExist preconditions,
// and similarity buckets are updated optimistically
// with generation-match preconditions.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

// MaxBucketAttempts is the number of times UpdateBucket tries
// before giving up on a contended bucket.
const MaxBucketAttempts = 10

// ErrContention is the error returned when UpdateBucket
// loses the race for a bucket MaxBucketAttempts times in a row.
var ErrContention = stderrs.New("too much contention")

// Backend is a Google Cloud Storage-based implementation of lineage.Backend.
type Backend struct {
	bucket *storage.BucketHandle
	prefix string
}

// New produces a new Backend.
// All object names begin with prefix,
// which may be empty.
func New(bucket *storage.BucketHandle, prefix string) *Backend {
	return &Backend{bucket: bucket, prefix: prefix}
}

func (b *Backend) objName(typ lineage.ObjectType, h lineage.Hash, leaf string) string {
	hex := h.String()
	return b.prefix + path.Join("objects", string(typ), hex[:2], hex, leaf)
}

func (b *Backend) bucketName(typ lineage.ObjectType, bucket string) string {
	return b.prefix + path.Join("similarity", string(typ), bucket)
}

func (b *Backend) refName(typ lineage.ObjectType, name string) string {
	return b.prefix + path.Join("refs", string(typ), name)
}

func (b *Backend) derivationName(typ lineage.ObjectType, h lineage.Hash) string {
	hex := h.String()
	return b.prefix + path.Join("derivations", string(typ), hex[:2], hex+".json")
}

// PutObject implements lineage.ObjectBackend.
// Metadata is written before content,
// and readers treat an object as present only once its content exists,
// so no reader sees content without metadata.
func (b *Backend) PutObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	contentName := b.objName(typ, h, "content")
	_, err := b.bucket.Object(contentName).Attrs(ctx)
	if err == nil {
		return false, nil
	}
	if !stderrs.Is(err, storage.ErrObjectNotExist) {
		return false, errors.Wrapf(err, "getting object attrs for %s", contentName)
	}

	if _, err = b.create(ctx, b.objName(typ, h, "metadata"), metadata); err != nil {
		return false, err
	}
	return b.create(ctx, contentName, content)
}

// GetObject implements lineage.ObjectBackend.
func (b *Backend) GetObject(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	content, err := b.read(ctx, b.objName(typ, h, "content"))
	if err != nil {
		return nil, nil, err
	}
	metadata, err := b.read(ctx, b.objName(typ, h, "metadata"))
	return content, metadata, err
}

// GetMetadata implements lineage.ObjectBackend.
// Metadata is written before content,
// so the object exists only once its content does.
func (b *Backend) GetMetadata(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	contentName := b.objName(typ, h, "content")
	_, err := b.bucket.Object(contentName).Attrs(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, lineage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting object attrs for %s", contentName)
	}
	return b.read(ctx, b.objName(typ, h, "metadata"))
}

// ListObjects implements lineage.ObjectBackend.
func (b *Backend) ListObjects(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	prefix := b.prefix + path.Join("objects", string(typ)) + "/"
	return b.list(ctx, prefix, func(name string) error {
		if !strings.HasSuffix(name, "/content") {
			return nil
		}
		h, err := lineage.HashFromHex(path.Base(path.Dir(name)))
		if err != nil {
			return nil
		}
		return f(h)
	})
}

// GetBucket implements lineage.BucketBackend.
func (b *Backend) GetBucket(ctx context.Context, typ lineage.ObjectType, bucket string) ([]byte, error) {
	return b.read(ctx, b.bucketName(typ, bucket))
}

// UpdateBucket implements lineage.BucketBackend.
// Each attempt reads the bucket at some generation
// and writes the update only if the generation is unchanged.
// On a lost race the update is retried with fresh contents.
func (b *Backend) UpdateBucket(ctx context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error {
	var (
		name = b.bucketName(typ, bucket)
		obj  = b.bucket.Object(name)
	)

	for i := 0; i < MaxBucketAttempts; i++ {
		var (
			old  []byte
			cond storage.Conditions
		)

		attrs, err := obj.Attrs(ctx)
		switch {
		case stderrs.Is(err, storage.ErrObjectNotExist):
			cond.DoesNotExist = true
		case err != nil:
			return errors.Wrapf(err, "getting object attrs for %s", name)
		default:
			cond.GenerationMatch = attrs.Generation
			old, err = b.readHandle(ctx, obj.Generation(attrs.Generation), name)
			if errors.Is(err, lineage.ErrNotFound) {
				// Replaced since Attrs; start over.
				continue
			}
			if err != nil {
				return err
			}
		}

		updated, err := f(old)
		if err != nil {
			return err
		}

		ok, err := b.write(ctx, obj.If(cond), updated)
		if err != nil {
			return errors.Wrapf(err, "writing %s", name)
		}
		if ok {
			return nil
		}
	}
	return errors.Wrapf(ErrContention, "updating %s", name)
}

// PutRef implements lineage.RefBackend.
func (b *Backend) PutRef(ctx context.Context, typ lineage.ObjectType, name string, h lineage.Hash) error {
	objName := b.refName(typ, name)
	_, err := b.write(ctx, b.bucket.Object(objName), []byte(h.String()))
	return errors.Wrapf(err, "writing %s", objName)
}

// GetRef implements lineage.RefBackend.
func (b *Backend) GetRef(ctx context.Context, typ lineage.ObjectType, name string) (lineage.Hash, error) {
	data, err := b.read(ctx, b.refName(typ, name))
	if err != nil {
		return lineage.Zero, err
	}
	return lineage.HashFromHex(strings.TrimSpace(string(data)))
}

// ListRefs implements lineage.RefBackend.
func (b *Backend) ListRefs(ctx context.Context, typ lineage.ObjectType, f func(string, lineage.Hash) error) error {
	prefix := b.prefix + path.Join("refs", string(typ)) + "/"
	return b.list(ctx, prefix, func(objName string) error {
		name := strings.TrimPrefix(objName, prefix)
		if strings.Contains(name, "/") {
			return nil
		}
		h, err := b.GetRef(ctx, typ, name)
		if errors.Is(err, lineage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return f(name, h)
	})
}

// PutDerivation implements lineage.DerivationBackend.
func (b *Backend) PutDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash, rec []byte) (bool, error) {
	return b.create(ctx, b.derivationName(typ, h), rec)
}

// GetDerivation implements lineage.DerivationBackend.
func (b *Backend) GetDerivation(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	return b.read(ctx, b.derivationName(typ, h))
}

// ListDerivations implements lineage.DerivationBackend.
func (b *Backend) ListDerivations(ctx context.Context, typ lineage.ObjectType, f func(lineage.Hash, []byte) error) error {
	prefix := b.prefix + path.Join("derivations", string(typ)) + "/"
	return b.list(ctx, prefix, func(name string) error {
		base := path.Base(name)
		if !strings.HasSuffix(base, ".json") {
			return nil
		}
		h, err := lineage.HashFromHex(strings.TrimSuffix(base, ".json"))
		if err != nil {
			return nil
		}
		rec, err := b.read(ctx, name)
		if err != nil {
			return err
		}
		return f(h, rec)
	})
}

// create writes data to a new object.
// It returns false if the object already exists.
func (b *Backend) create(ctx context.Context, name string, data []byte) (bool, error) {
	obj := b.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
	ok, err := b.write(ctx, obj, data)
	return ok, errors.Wrapf(err, "writing object %s", name)
}

// write writes data to obj.
// It returns false if a precondition on obj failed.
func (b *Backend) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) (bool, error) {
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	err := w.Close()
	if isPreconditionFailed(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) read(ctx context.Context, name string) ([]byte, error) {
	return b.readHandle(ctx, b.bucket.Object(name), name)
}

func (b *Backend) readHandle(ctx context.Context, obj *storage.ObjectHandle, name string) ([]byte, error) {
	r, err := obj.NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, lineage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading object %s", name)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	return data, errors.Wrapf(err, "reading contents of object %s", name)
}

func (b *Backend) list(ctx context.Context, prefix string, f func(string) error) error {
	iter := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "listing objects with prefix %s", prefix)
		}
		if err = f(attrs.Name); err != nil {
			return err
		}
	}
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

// Register adds the "gcs" backend type to r.
// Its config requires "creds" (the name of a credentials file)
// and "bucket",
// and optionally takes a "prefix" for object names.
func Register(r *store.Registry) {
	r.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (lineage.Backend, error) {
		creds, ok := conf["creds"].(string)
		if !ok {
			return nil, errors.New(`missing "creds" parameter`)
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		prefix, _ := conf["prefix"].(string)
		c, err := storage.NewClient(ctx, option.WithCredentialsFile(creds))
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName), prefix), nil
	})
}
