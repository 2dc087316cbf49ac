package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bobg/lineage"
)

// GetMulti loads multiple objects of one type concurrently.
// The result maps each hash that was found to its object.
// The returned error may be a MultiErr,
// mapping hashes to the errors encountered loading them.
// GetMulti may return a partial result even in case of error:
// when the error is a MultiErr,
// every input hash appears in either the result map or the MultiErr map.
func (s *Store) GetMulti(ctx context.Context, typ lineage.ObjectType, hashes []lineage.Hash) (map[lineage.Hash]*lineage.Object, error) {
	type triple struct {
		h   lineage.Hash
		obj *lineage.Object
		err error
	}

	var (
		res = make(map[lineage.Hash]*lineage.Object)
		ch  = make(chan triple, len(hashes))
		g   errgroup.Group
	)

	g.SetLimit(16)
	for _, h := range hashes {
		h := h
		g.Go(func() error {
			obj, err := s.Get(ctx, typ, h)
			ch <- triple{h: h, obj: obj, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(ch)

	var errmap MultiErr

	for trip := range ch {
		if trip.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[trip.h] = trip.err
			continue
		}
		res[trip.h] = trip.obj
	}

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}

// MultiErr is the type of error returned by GetMulti.
// It maps individual hashes to errors encountered trying to load them.
type MultiErr map[lineage.Hash]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for h, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", h, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}
