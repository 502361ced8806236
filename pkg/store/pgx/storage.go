// Package pgx implements store.GraphStorage on PostgreSQL. Vector search
// runs on pgvector, full-text search on tsvector, fuzzy entity matching on
// pg_trgm; graph traversal is not delegated to the database, the adjacency
// tables only feed snapshots for the algorithms package.
package pgx

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tracemap/cartograph/pkg/common"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage is the PostgreSQL-backed graph store. All identifiers
// crossing its API are public ids; internal bigserial ids and node ids stay
// below this layer.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorage creates a GraphDBStorage on an existing connection or
// pool. The connection must have pgvector types registered.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

func resolveDocumentID(ctx context.Context, q queryRower, publicID string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, resolveDocumentSQL, publicID).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, &common.NotFoundError{Kind: "document", ID: publicID}
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func resolveEntityID(ctx context.Context, q queryRower, publicID string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, resolveEntitySQL, publicID).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, &common.NotFoundError{Kind: "entity", ID: publicID}
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

const resolveDocumentSQL = `
SELECT id FROM documents WHERE public_id = $1;
`

const resolveEntitySQL = `
SELECT id FROM entities WHERE public_id = $1;
`
