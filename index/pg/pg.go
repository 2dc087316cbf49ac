// Package pg provides a Postgresql-based derivation index.
package pg

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/lineage/index/sqlindex"
)

// Schema is the SQL that New executes.
// It creates the derivations, edges, and capabilities tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS derivations (
  type TEXT NOT NULL,
  hash TEXT NOT NULL,
  PRIMARY KEY (type, hash)
);

CREATE TABLE IF NOT EXISTS edges (
  type TEXT NOT NULL,
  child TEXT NOT NULL,
  pos INTEGER NOT NULL,
  parent TEXT NOT NULL,
  relation TEXT NOT NULL,
  similarity DOUBLE PRECISION NOT NULL,
  branch TEXT NOT NULL,
  PRIMARY KEY (type, child, pos)
);

CREATE INDEX IF NOT EXISTS edges_parent_idx ON edges (type, parent);

CREATE TABLE IF NOT EXISTS capabilities (
  type TEXT NOT NULL,
  capability TEXT NOT NULL,
  hash TEXT NOT NULL,
  PRIMARY KEY (type, capability, hash)
);
`

// New produces a new index using db for storage.
// (See Schema.)
func New(ctx context.Context, db *sql.DB) (*sqlindex.Index, error) {
	return sqlindex.New(ctx, db, Schema)
}

// Open connects to the Postgresql database described by conf["conn"]
// and produces an index in it.
func Open(ctx context.Context, conf map[string]interface{}) (*sqlindex.Index, error) {
	conn, ok := conf["conn"].(string)
	if !ok {
		return nil, errors.New(`missing "conn" parameter`)
	}
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	return New(ctx, db)
}
