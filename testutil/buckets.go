package testutil

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/bobg/lineage"
)

// Buckets tests that concurrent bucket updates are serialized,
// so that no update is lost.
func Buckets(ctx context.Context, t *testing.T, b lineage.BucketBackend) {
	const (
		typ     = lineage.ObjectType("file")
		bucket  = "abcd"
		workers = 8
		rounds  = 10
	)

	if _, err := b.GetBucket(ctx, typ, bucket); !errors.Is(err, lineage.ErrNotFound) {
		t.Fatalf("got %v for a new bucket, want ErrNotFound", err)
	}

	incr := func(old []byte) ([]byte, error) {
		var n int
		if old != nil {
			var err error
			if n, err = strconv.Atoi(string(old)); err != nil {
				return nil, err
			}
		}
		return []byte(strconv.Itoa(n + 1)), nil
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, workers*rounds)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if err := b.UpdateBucket(ctx, typ, bucket, incr); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	got, err := b.GetBucket(ctx, typ, bucket)
	if err != nil {
		t.Fatal(err)
	}
	if want := strconv.Itoa(workers * rounds); string(got) != want {
		t.Errorf("got bucket contents %s, want %s", got, want)
	}

	failure := errors.New("update failed")
	err = b.UpdateBucket(ctx, typ, bucket, func([]byte) ([]byte, error) { return nil, failure })
	if !errors.Is(err, failure) {
		t.Errorf("got %v from failing update, want %v", err, failure)
	}
	if got2, err := b.GetBucket(ctx, typ, bucket); err != nil || string(got2) != string(got) {
		t.Errorf("bucket changed to %s (err %v) after failed update", got2, err)
	}

	if _, err := b.GetBucket(ctx, "schema", bucket); !errors.Is(err, lineage.ErrNotFound) {
		t.Errorf("got %v for a bucket of another type, want ErrNotFound", err)
	}
}
