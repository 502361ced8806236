package pgx

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

func (s *GraphDBStorage) scopeID(ctx context.Context, scope store.Scope) (int64, error) {
	if scope.Global() {
		return 0, nil
	}
	return resolveDocumentID(ctx, s.conn, scope.Document)
}

func (s *GraphDBStorage) TopKByVector(ctx context.Context, queryVector []float32, k int, scope store.Scope) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, &common.ValidationError{Field: "k", Reason: "must be positive"}
	}
	if len(queryVector) == 0 {
		return nil, &common.ValidationError{Field: "queryVector", Reason: "must not be empty"}
	}
	docID, err := s.scopeID(ctx, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, topKByVectorSQL, pgvector.NewVector(queryVector), docID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]store.SearchHit, 0, k)
	for rows.Next() {
		var hit store.SearchHit
		if err := rows.Scan(&hit.ID, &hit.Document, &hit.Score, &hit.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *GraphDBStorage) TopKByText(ctx context.Context, queryText string, k int, scope store.Scope) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, &common.ValidationError{Field: "k", Reason: "must be positive"}
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	docID, err := s.scopeID(ctx, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, topKByTextSQL, queryText, docID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]store.SearchHit, 0, k)
	for rows.Next() {
		var hit store.SearchHit
		if err := rows.Scan(&hit.ID, &hit.Document, &hit.Score, &hit.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *GraphDBStorage) MatchEntities(ctx context.Context, queryText string, scope store.Scope, limit int) ([]store.EntityMatch, error) {
	if limit <= 0 {
		return nil, &common.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	query := util.NormalizeText(queryText)
	if query == "" {
		return nil, nil
	}
	docID, err := s.scopeID(ctx, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, matchEntitiesSQL, query, docID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]store.EntityMatch, 0, limit)
	for rows.Next() {
		var m store.EntityMatch
		var kind string
		if err := rows.Scan(&m.ID, &m.Name, &kind, &m.Similarity); err != nil {
			return nil, err
		}
		m.Type = common.EntityType(kind)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

const topKByVectorSQL = `
SELECT c.public_id, d.public_id, 1 - (c.embedding <=> $1) AS score, LEFT(c.content, 240)
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.embedding IS NOT NULL
  AND ($2::bigint = 0 OR c.document_id = $2)
ORDER BY c.embedding <=> $1, c.public_id
LIMIT $3;
`

const topKByTextSQL = `
SELECT c.public_id, d.public_id, ts_rank(c.tsv, q)::double precision AS score, LEFT(c.content, 240)
FROM chunks c
JOIN documents d ON d.id = c.document_id,
     websearch_to_tsquery('english', $1) AS q
WHERE c.tsv @@ q
  AND ($2::bigint = 0 OR c.document_id = $2)
ORDER BY score DESC, c.public_id
LIMIT $3;
`

const matchEntitiesSQL = `
SELECT e.public_id, e.name, e.type, similarity(e.normalized_name, $1)::double precision AS sim
FROM entities e
WHERE e.normalized_name % $1
  AND ($2::bigint = 0 OR e.document_id = $2)
ORDER BY sim DESC, e.public_id
LIMIT $3;
`
