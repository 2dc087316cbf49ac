// Package sqlindex implements a persistent dag.Index over database/sql.
// The SQL it issues uses $n placeholders and ON CONFLICT DO NOTHING,
// which both Sqlite and Postgresql accept.
// Drivers and table definitions come from the packages that wrap it.
package sqlindex

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
)

var _ dag.Index = &Index{}

// Index is a dag.Index stored in SQL tables
// named derivations, edges, and capabilities.
type Index struct {
	db *sql.DB
}

// New produces a new Index using db,
// after executing schema to create its tables.
func New(ctx context.Context, db *sql.DB, schema string) (*Index, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "creating tables")
	}
	return &Index{db: db}, nil
}

// DB is the database beneath x.
func (x *Index) DB() *sql.DB {
	return x.db
}

// Add implements dag.Index.Add.
func (x *Index) Add(ctx context.Context, d *lineage.Derivation) (err error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		typ = string(d.ObjectType)
		h   = d.ObjectHash.String()
	)

	const q = `INSERT INTO derivations (type, hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	res, err := tx.ExecContext(ctx, q, typ, h)
	if err != nil {
		return errors.Wrapf(err, "inserting derivation of %s", h)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return tx.Commit()
	}

	for i, p := range d.Parents {
		const q = `INSERT INTO edges (type, child, pos, parent, relation, similarity, branch) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = tx.ExecContext(ctx, q, typ, h, i, p.Hash.String(), string(p.Relation), p.Similarity, p.Branch)
		if err != nil {
			return errors.Wrapf(err, "inserting edge %s -> %s", p.Hash, h)
		}
	}
	for _, c := range lineage.NormalizeSet(d.Semantic.Capabilities) {
		const q = `INSERT INTO capabilities (type, capability, hash) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
		if _, err = tx.ExecContext(ctx, q, typ, c, h); err != nil {
			return errors.Wrapf(err, "inserting capability %s of %s", c, h)
		}
	}

	return errors.Wrap(tx.Commit(), "committing")
}

// Parents implements dag.Index.Parents.
func (x *Index) Parents(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.ParentRef, bool, error) {
	const q = `SELECT COUNT(*) FROM derivations WHERE type = $1 AND hash = $2`

	var n int
	if err := x.db.QueryRowContext(ctx, q, string(typ), h.String()).Scan(&n); err != nil {
		return nil, false, errors.Wrapf(err, "looking up derivation of %s", h)
	}
	if n == 0 {
		return nil, false, nil
	}

	const q2 = `SELECT parent, relation, similarity, branch FROM edges WHERE type = $1 AND child = $2 ORDER BY pos`

	var parents []lineage.ParentRef
	err := sqlutil.ForQueryRows(ctx, x.db, q2, string(typ), h.String(), func(parent, relation string, similarity float64, branch string) error {
		ph, err := lineage.HashFromHex(parent)
		if err != nil {
			return err
		}
		parents = append(parents, lineage.ParentRef{
			Hash:       ph,
			Relation:   lineage.Relation(relation),
			Similarity: similarity,
			Branch:     branch,
		})
		return nil
	})
	return parents, true, errors.Wrapf(err, "querying parents of %s", h)
}

// Children implements dag.Index.Children.
func (x *Index) Children(ctx context.Context, typ lineage.ObjectType, h lineage.Hash) ([]lineage.Hash, error) {
	const q = `SELECT DISTINCT child FROM edges WHERE type = $1 AND parent = $2 ORDER BY child`
	return x.hashes(ctx, q, typ, h.String())
}

// ByCapability implements dag.Index.ByCapability.
func (x *Index) ByCapability(ctx context.Context, typ lineage.ObjectType, capability string) ([]lineage.Hash, error) {
	const q = `SELECT hash FROM capabilities WHERE type = $1 AND capability = $2 ORDER BY hash`
	return x.hashes(ctx, q, typ, capability)
}

// hashes runs q, which selects a single column of hex-encoded hashes.
// Lowercase hex sorts the same as the hashes it encodes.
func (x *Index) hashes(ctx context.Context, q string, typ lineage.ObjectType, arg string) ([]lineage.Hash, error) {
	var out []lineage.Hash
	err := sqlutil.ForQueryRows(ctx, x.db, q, string(typ), arg, func(s string) error {
		h, err := lineage.HashFromHex(s)
		if err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out, errors.Wrap(err, "querying index")
}
