package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"
)

const chunkInsertBatch = 250

func (s *GraphDBStorage) CreateDocument(ctx context.Context, name, content string) (*common.Document, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &common.ValidationError{Field: "Name", Reason: "must not be empty"}
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate document id: %w", err)
	}

	doc := &common.Document{
		ID:     id,
		Name:   name,
		Status: common.StatusPending,
	}
	err = s.conn.QueryRow(ctx, createDocumentSQL,
		id, name, util.SanitizePostgresText(content), string(common.StatusPending),
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *GraphDBStorage) GetDocument(ctx context.Context, documentID string) (*common.Document, error) {
	doc := &common.Document{}
	var status string
	err := s.conn.QueryRow(ctx, getDocumentSQL, documentID).Scan(
		&doc.ID, &doc.Name, &status, &doc.ChunkCount, &doc.FailedChunks,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return nil, err
	}
	doc.Status = common.DocumentStatus(status)
	return doc, nil
}

func (s *GraphDBStorage) GetDocumentContent(ctx context.Context, documentID string) (string, error) {
	var content string
	err := s.conn.QueryRow(ctx, getDocumentContentSQL, documentID).Scan(&content)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", &common.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// DeleteDocument removes the document and everything derived from it:
// chunks, entities, relationships, node mappings, edges, and the stage
// trail, all in one transaction.
func (s *GraphDBStorage) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	docID, err := resolveDocumentID(ctx, tx, documentID)
	if err != nil {
		return err
	}

	logger.Debug("[Store][DeleteDocument] Cascading delete", "document", documentID)
	for _, sql := range []string{
		deleteDocumentEdgesSQL,
		deleteDocumentRelationshipsSQL,
		deleteDocumentNodesSQL,
		deleteDocumentEntitiesSQL,
		deleteDocumentChunksSQL,
		deleteDocumentStagesSQL,
		deleteDocumentSQL,
	} {
		if _, err := tx.Exec(ctx, sql, docID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SaveChunks replaces the document's chunk set. Content rows go in batched;
// embeddings follow per chunk so that chunks without one stay NULL and
// remain reachable through full-text search.
func (s *GraphDBStorage) SaveChunks(ctx context.Context, documentID string, chunks []common.Chunk) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	docID, err := resolveDocumentID(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, deleteDocumentChunksSQL, docID); err != nil {
		return err
	}

	stored := make([]common.Chunk, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate chunk id: %w", err)
			}
			c.ID = id
		}
		stored[i] = c
	}

	err = store.ChunkRange(len(stored), chunkInsertBatch, func(start, end int) error {
		part := stored[start:end]
		logger.Debug("[Store][SaveChunks] Inserting chunk batch", "document", documentID, "chunks", len(part))

		publicIDs := make([]string, len(part))
		indexes := make([]int32, len(part))
		contents := make([]string, len(part))
		tokenCounts := make([]int32, len(part))
		for i, c := range part {
			publicIDs[i] = c.ID
			indexes[i] = int32(c.Index)
			contents[i] = util.SanitizePostgresText(c.Content)
			tokenCounts[i] = int32(c.TokenCount)
		}
		if _, err := tx.Exec(ctx, insertChunksSQL, docID, publicIDs, indexes, contents, tokenCounts); err != nil {
			return err
		}

		for _, c := range part {
			if len(c.Embedding) == 0 {
				continue
			}
			if _, err := tx.Exec(ctx, updateChunkEmbeddingSQL, c.ID, pgvector.NewVector(c.Embedding)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateChunkCountSQL, docID, len(stored)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *GraphDBStorage) GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error) {
	docID, err := resolveDocumentID(ctx, s.conn, documentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, getChunksSQL, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]common.Chunk, 0)
	for rows.Next() {
		c := common.Chunk{Document: documentID}
		if err := rows.Scan(&c.ID, &c.Index, &c.Content, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

const createDocumentSQL = `
INSERT INTO documents (public_id, name, content, status)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at;
`

const getDocumentSQL = `
SELECT public_id, name, status, chunk_count, failed_chunks, created_at, updated_at
FROM documents
WHERE public_id = $1;
`

const getDocumentContentSQL = `
SELECT content FROM documents WHERE public_id = $1;
`

const deleteDocumentEdgesSQL = `
DELETE FROM entity_edges
WHERE relationship_id IN (SELECT id FROM relationships WHERE document_id = $1);
`

const deleteDocumentRelationshipsSQL = `
DELETE FROM relationships WHERE document_id = $1;
`

const deleteDocumentNodesSQL = `
DELETE FROM entity_nodes
WHERE entity_id IN (SELECT id FROM entities WHERE document_id = $1);
`

const deleteDocumentEntitiesSQL = `
DELETE FROM entities WHERE document_id = $1;
`

const deleteDocumentChunksSQL = `
DELETE FROM chunks WHERE document_id = $1;
`

const deleteDocumentStagesSQL = `
DELETE FROM pipeline_stages WHERE document_id = $1;
`

const deleteDocumentSQL = `
DELETE FROM documents WHERE id = $1;
`

const insertChunksSQL = `
INSERT INTO chunks (document_id, public_id, chunk_index, content, token_count)
SELECT $1, pid, idx, body, tokens
FROM unnest($2::text[], $3::int[], $4::text[], $5::int[]) AS t(pid, idx, body, tokens);
`

const updateChunkEmbeddingSQL = `
UPDATE chunks SET embedding = $2 WHERE public_id = $1;
`

const updateChunkCountSQL = `
UPDATE documents SET chunk_count = $2, updated_at = now() WHERE id = $1;
`

const getChunksSQL = `
SELECT public_id, chunk_index, content, token_count
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index;
`
