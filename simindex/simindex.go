// Package simindex implements the similarity index:
// an inverted index from similarity-hash bucket to the objects in that bucket.
//
// A lookup reads only the bucket addressed by the query's leading hex digits.
// Objects in other buckets are never found,
// however closely the rest of their similarity hash matches.
package simindex

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/lineage"
)

// Buckets is the storage beneath an Index.
// It is satisfied by lineage.BucketBackend.
type Buckets interface {
	GetBucket(ctx context.Context, typ lineage.ObjectType, bucket string) ([]byte, error)
	UpdateBucket(ctx context.Context, typ lineage.ObjectType, bucket string, f func([]byte) ([]byte, error)) error
}

// Entry is one object in a bucket.
type Entry struct {
	Hash    lineage.Hash    `json:"exact_hash"`
	SimHash lineage.SimHash `json:"similarity_hash"`
}

// Match is one result of Find.
type Match struct {
	Hash    lineage.Hash    `json:"exact_hash"`
	SimHash lineage.SimHash `json:"similarity_hash"`
	Score   float64         `json:"score"`
}

// Index is a similarity index.
type Index struct {
	b Buckets
}

// New produces an Index over the given bucket storage.
func New(b Buckets) *Index {
	return &Index{b: b}
}

// Add inserts e into the bucket selected by its similarity hash.
// It returns false if the bucket already held an entry for e.Hash.
// The read-modify-write happens inside Buckets.UpdateBucket,
// which serializes concurrent updates to the same bucket.
func (x *Index) Add(ctx context.Context, typ lineage.ObjectType, e Entry) (bool, error) {
	var added bool
	bucket := e.SimHash.Bucket()
	err := x.b.UpdateBucket(ctx, typ, bucket, func(old []byte) ([]byte, error) {
		entries, err := decodeBucket(old)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(entries), func(i int) bool { return !entries[i].Hash.Less(e.Hash) })
		if i < len(entries) && entries[i].Hash == e.Hash {
			added = false
			return old, nil
		}
		entries = append(entries, Entry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = e
		added = true
		return json.Marshal(entries)
	})
	return added, errors.Wrapf(err, "adding %s to bucket %s/%s", e.Hash, typ, bucket)
}

// Find returns the entries in q's bucket whose agreement with q is at least threshold,
// best first, with ties broken by exact hash.
// If max is positive, at most max matches are returned.
func (x *Index) Find(ctx context.Context, typ lineage.ObjectType, q lineage.SimHash, threshold float64, max int) ([]Match, error) {
	entries, err := x.Bucket(ctx, typ, q.Bucket())
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, e := range entries {
		score := q.Agreement(e.SimHash)
		if score < threshold {
			continue
		}
		out = append(out, Match{Hash: e.Hash, SimHash: e.SimHash, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Hash.Less(out[j].Hash)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Bucket returns the entries of one bucket in exact-hash order.
// A bucket that has never been written is empty.
func (x *Index) Bucket(ctx context.Context, typ lineage.ObjectType, bucket string) ([]Entry, error) {
	if !lineage.IsBucket(bucket) {
		return nil, errors.Errorf("malformed bucket key %q", bucket)
	}
	b, err := x.b.GetBucket(ctx, typ, bucket)
	if errors.Is(err, lineage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading bucket %s/%s", typ, bucket)
	}
	return decodeBucket(b)
}

func decodeBucket(b []byte) ([]Entry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding bucket")
	}
	return entries, nil
}
