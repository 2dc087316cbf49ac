package lineage

import (
	"context"
	"errors"
	"fmt"
)

// ObjectBackend persists object content and metadata.
type ObjectBackend interface {
	// PutObject stores content and its encoded metadata under (typ, h)
	// if nothing is stored there yet.
	// It returns true iff the object had to be added.
	// The write is atomic: a concurrent reader sees either both content and metadata or neither.
	PutObject(ctx context.Context, typ ObjectType, h Hash, content, metadata []byte) (bool, error)

	// GetObject returns exactly the bytes stored by PutObject,
	// or ErrNotFound.
	GetObject(ctx context.Context, typ ObjectType, h Hash) (content, metadata []byte, err error)

	// GetMetadata is like GetObject but reads only the metadata.
	GetMetadata(ctx context.Context, typ ObjectType, h Hash) ([]byte, error)

	// ListObjects calls f for each object hash of the given type, in lexicographic order.
	// If f returns an error, ListObjects exits with that error.
	ListObjects(ctx context.Context, typ ObjectType, f func(Hash) error) error
}

// BucketBackend persists similarity buckets.
type BucketBackend interface {
	// GetBucket returns the encoded contents of a bucket,
	// or ErrNotFound if it has never been written.
	GetBucket(ctx context.Context, typ ObjectType, bucket string) ([]byte, error)

	// UpdateBucket replaces the contents of a bucket with the result of f,
	// which receives the current contents (nil if the bucket does not exist).
	// Implementations serialize updates to the same bucket,
	// even across processes where the backend is shared,
	// so no update is lost.
	UpdateBucket(ctx context.Context, typ ObjectType, bucket string, f func([]byte) ([]byte, error)) error
}

// RefBackend persists mutable named pointers.
// Writes are last-writer-wins.
type RefBackend interface {
	PutRef(ctx context.Context, typ ObjectType, name string, h Hash) error

	// GetRef returns the hash a ref points to, or ErrNotFound.
	GetRef(ctx context.Context, typ ObjectType, name string) (Hash, error)

	// ListRefs calls f for each ref of the given type, in lexicographic order by name.
	ListRefs(ctx context.Context, typ ObjectType, f func(string, Hash) error) error
}

// DerivationBackend persists encoded Derivation records,
// keyed by the hash of the object each one describes.
type DerivationBackend interface {
	// PutDerivation stores rec under (typ, h) if nothing is stored there yet.
	// It returns true iff the record had to be added.
	// The first record written for a hash wins.
	PutDerivation(ctx context.Context, typ ObjectType, h Hash, rec []byte) (bool, error)

	// GetDerivation returns the record for h, or ErrNotFound.
	GetDerivation(ctx context.Context, typ ObjectType, h Hash) ([]byte, error)

	// ListDerivations calls f for each record of the given type,
	// in lexicographic order by object hash.
	ListDerivations(ctx context.Context, typ ObjectType, f func(Hash, []byte) error) error
}

// Backend is the complete persistence layer beneath an object store.
type Backend interface {
	ObjectBackend
	BucketBackend
	RefBackend
	DerivationBackend
}

// ErrNotFound is the error returned
// when a lookup finds no object, ref, bucket, or derivation.
var ErrNotFound = errors.New("not found")

// ErrCycle is the error returned when recording a derivation
// would make an object its own ancestor.
var ErrCycle = errors.New("derivation cycle")

// IntegrityError is the error returned when reconstructed content
// does not hash to the expected value.
type IntegrityError struct {
	Want, Got Hash
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: reconstructed content hashes to %s, want %s", e.Got, e.Want)
}
