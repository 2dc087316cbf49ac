// Package file implements a backend as a file hierarchy.
//
// Beneath the root directory:
//
//	objects/TYPE/HH/HASH/content
//	objects/TYPE/HH/HASH/metadata
//	similarity/TYPE/BUCKET
//	similarity/TYPE/BUCKET.lock
//	refs/TYPE/NAME
//	derivations/TYPE/HH/HASH.json
//
// where HH is the first two hex digits of HASH.
// Temporary files and directories begin with a dot
// and are ignored when listing.
package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/store"
)

var _ lineage.Backend = &Backend{}

// Backend is a file-based implementation of lineage.Backend.
// It is safe for use by multiple processes sharing the same root.
type Backend struct {
	root    string
	flocker flock.Locker

	mu    sync.Mutex
	locks map[string]*sync.Mutex // bucket path -> in-process lock
}

const (
	// A bucket lockfile older than this is considered abandoned.
	lockDur = 10 * time.Second

	minLockWait = 2 * time.Millisecond
	maxLockWait = 100 * time.Millisecond
)

// New produces a new Backend storing data beneath root.
func New(root string) *Backend {
	return &Backend{
		root:    root,
		flocker: flock.Locker{LockDur: lockDur},
		locks:   make(map[string]*sync.Mutex),
	}
}

// Root is the directory beneath which b stores its data.
func (b *Backend) Root() string {
	return b.root
}

// ObjectDir is the directory holding the content and metadata of an object.
func (b *Backend) ObjectDir(typ lineage.ObjectType, h lineage.Hash) string {
	hex := h.String()
	return filepath.Join(b.root, "objects", string(typ), hex[:2], hex)
}

func (b *Backend) bucketPath(typ lineage.ObjectType, bucket string) string {
	return filepath.Join(b.root, "similarity", string(typ), bucket)
}

func (b *Backend) refPath(typ lineage.ObjectType, name string) string {
	return filepath.Join(b.root, "refs", string(typ), name)
}

func (b *Backend) derivationPath(typ lineage.ObjectType, h lineage.Hash) string {
	hex := h.String()
	return filepath.Join(b.root, "derivations", string(typ), hex[:2], hex+".json")
}

// PutObject implements lineage.ObjectBackend.
// Content and metadata are written into a temporary directory
// that is then renamed into place,
// so readers see both files or neither.
func (b *Backend) PutObject(_ context.Context, typ lineage.ObjectType, h lineage.Hash, content, metadata []byte) (bool, error) {
	var (
		dir         = b.ObjectDir(typ, h)
		contentPath = filepath.Join(dir, "content")
		shard       = filepath.Dir(dir)
	)

	if _, err := os.Stat(contentPath); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(shard, 0755); err != nil {
		return false, errors.Wrapf(err, "ensuring path %s exists", shard)
	}

	tmp, err := os.MkdirTemp(shard, ".tmp-")
	if err != nil {
		return false, errors.Wrapf(err, "creating temp dir in %s", shard)
	}
	defer os.RemoveAll(tmp)

	if err = writeFileDurable(filepath.Join(tmp, "content"), content); err != nil {
		return false, errors.Wrapf(err, "writing content of %s", h)
	}
	if err = writeFileDurable(filepath.Join(tmp, "metadata"), metadata); err != nil {
		return false, errors.Wrapf(err, "writing metadata of %s", h)
	}
	if err = fsyncDir(tmp); err != nil {
		return false, errors.Wrapf(err, "syncing %s", tmp)
	}

	if err = os.Rename(tmp, dir); err != nil {
		if _, serr := os.Stat(contentPath); serr == nil {
			// Another writer got there first.
			return false, nil
		}
		return false, errors.Wrapf(err, "renaming %s to %s", tmp, dir)
	}
	return true, errors.Wrapf(fsyncDir(shard), "syncing %s", shard)
}

// GetObject implements lineage.ObjectBackend.
func (b *Backend) GetObject(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, []byte, error) {
	dir := b.ObjectDir(typ, h)

	content, err := os.ReadFile(filepath.Join(dir, "content"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, lineage.ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading content of %s", h)
	}

	metadata, err := os.ReadFile(filepath.Join(dir, "metadata"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, lineage.ErrNotFound
	}
	return content, metadata, errors.Wrapf(err, "reading metadata of %s", h)
}

// GetMetadata implements lineage.ObjectBackend.
func (b *Backend) GetMetadata(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	metadata, err := os.ReadFile(filepath.Join(b.ObjectDir(typ, h), "metadata"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, lineage.ErrNotFound
	}
	return metadata, errors.Wrapf(err, "reading metadata of %s", h)
}

// ListObjects implements lineage.ObjectBackend.
func (b *Backend) ListObjects(_ context.Context, typ lineage.ObjectType, f func(lineage.Hash) error) error {
	return walkShards(filepath.Join(b.root, "objects", string(typ)), func(shardDir string, info os.DirEntry) error {
		if !info.IsDir() {
			return nil
		}
		h, err := lineage.HashFromHex(info.Name())
		if err != nil {
			return nil
		}
		if _, err = os.Stat(filepath.Join(shardDir, info.Name(), "content")); err != nil {
			return nil
		}
		return f(h)
	})
}

// GetBucket implements lineage.BucketBackend.
func (b *Backend) GetBucket(_ context.Context, typ lineage.ObjectType, bucket string) ([]byte, error) {
	data, err := os.ReadFile(b.bucketPath(typ, bucket))
	if errors.Is(err, os.ErrNotExist) {
		return nil, lineage.ErrNotFound
	}
	return data, errors.Wrapf(err, "reading bucket %s", bucket)
}

// UpdateBucket implements lineage.BucketBackend.
// Updates are serialized with an in-process mutex per bucket
// and, across processes, with a lockfile beside the bucket file.
// A busy lockfile is retried until it is released, it expires,
// or ctx is canceled.
func (b *Backend) UpdateBucket(ctx context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error {
	var (
		path = b.bucketPath(typ, bucket)
		dir  = filepath.Dir(path)
	)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	mu := b.bucketMutex(path)
	mu.Lock()
	defer mu.Unlock()

	if err := b.lock(ctx, path); err != nil {
		return errors.Wrapf(err, "locking bucket %s", bucket)
	}
	defer b.flocker.Unlock(path)

	old, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		old = nil
	} else if err != nil {
		return errors.Wrapf(err, "reading bucket %s", bucket)
	}

	updated, err := f(old)
	if err != nil {
		return err
	}
	if old != nil && bytes.Equal(old, updated) {
		return nil
	}
	return errors.Wrapf(writeFileAtomic(path, updated), "writing bucket %s", bucket)
}

func (b *Backend) bucketMutex(path string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	mu, ok := b.locks[path]
	if !ok {
		mu = new(sync.Mutex)
		b.locks[path] = mu
	}
	return mu
}

// lock acquires the lockfile for path,
// backing off while some other process holds it.
func (b *Backend) lock(ctx context.Context, path string) error {
	wait := minLockWait
	for {
		err := b.flocker.Lock(path)
		if err == nil {
			return nil
		}
		// ErrNotExist: another waiter removed an expired lockfile first.
		if !errors.Is(err, flock.ErrLocked) && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxLockWait {
			wait = maxLockWait
		}
	}
}

// PutRef implements lineage.RefBackend.
func (b *Backend) PutRef(_ context.Context, typ lineage.ObjectType, name string, h lineage.Hash) error {
	path := b.refPath(typ, name)
	return errors.Wrapf(writeFileAtomic(path, []byte(h.String())), "writing ref %s", name)
}

// GetRef implements lineage.RefBackend.
func (b *Backend) GetRef(_ context.Context, typ lineage.ObjectType, name string) (lineage.Hash, error) {
	data, err := os.ReadFile(b.refPath(typ, name))
	if errors.Is(err, os.ErrNotExist) {
		return lineage.Zero, lineage.ErrNotFound
	}
	if err != nil {
		return lineage.Zero, errors.Wrapf(err, "reading ref %s", name)
	}
	return lineage.HashFromHex(strings.TrimSpace(string(data)))
}

// ListRefs implements lineage.RefBackend.
func (b *Backend) ListRefs(ctx context.Context, typ lineage.ObjectType, f func(string, lineage.Hash) error) error {
	dir := filepath.Join(b.root, "refs", string(typ))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		h, err := b.GetRef(ctx, typ, e.Name())
		if errors.Is(err, lineage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err = f(e.Name(), h); err != nil {
			return err
		}
	}
	return nil
}

// PutDerivation implements lineage.DerivationBackend.
// The record is written to a temporary file and then hard-linked into place,
// which fails harmlessly if a record is already there.
func (b *Backend) PutDerivation(_ context.Context, typ lineage.ObjectType, h lineage.Hash, rec []byte) (bool, error) {
	var (
		path = b.derivationPath(typ, h)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return false, errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = tmp.Write(rec); err != nil {
		tmp.Close()
		return false, errors.Wrapf(err, "writing %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return false, errors.Wrapf(err, "syncing %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return false, errors.Wrapf(err, "closing %s", tmpName)
	}

	err = os.Link(tmpName, path)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "linking %s to %s", tmpName, path)
	}
	return true, errors.Wrapf(fsyncDir(dir), "syncing %s", dir)
}

// GetDerivation implements lineage.DerivationBackend.
func (b *Backend) GetDerivation(_ context.Context, typ lineage.ObjectType, h lineage.Hash) ([]byte, error) {
	rec, err := os.ReadFile(b.derivationPath(typ, h))
	if errors.Is(err, os.ErrNotExist) {
		return nil, lineage.ErrNotFound
	}
	return rec, errors.Wrapf(err, "reading derivation of %s", h)
}

// ListDerivations implements lineage.DerivationBackend.
func (b *Backend) ListDerivations(_ context.Context, typ lineage.ObjectType, f func(lineage.Hash, []byte) error) error {
	return walkShards(filepath.Join(b.root, "derivations", string(typ)), func(shardDir string, info os.DirEntry) error {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".json") {
			return nil
		}
		h, err := lineage.HashFromHex(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil
		}
		rec, err := os.ReadFile(filepath.Join(shardDir, name))
		if err != nil {
			return errors.Wrapf(err, "reading derivation of %s", h)
		}
		return f(h, rec)
	})
}

// walkShards calls f on each entry of each two-hex-digit shard directory beneath top,
// in lexicographic order.
// A missing top directory is empty.
func walkShards(top string, f func(string, os.DirEntry) error) error {
	shards, err := os.ReadDir(top)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", top)
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 || strings.HasPrefix(shard.Name(), ".") {
			continue
		}
		shardDir := filepath.Join(top, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return errors.Wrapf(err, "reading dir %s", shardDir)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if err = f(shardDir, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Register adds the "file" backend type to r.
// Its config requires a "root" string.
func Register(r *store.Registry) {
	r.Register("file", func(_ context.Context, conf map[string]interface{}) (lineage.Backend, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
