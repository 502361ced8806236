package pgx

import (
	"context"
	"errors"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

func (s *GraphDBStorage) GetDocumentStatus(ctx context.Context, documentID string) (common.DocumentStatus, error) {
	var status string
	err := s.conn.QueryRow(ctx, getDocumentStatusSQL, documentID).Scan(&status)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", &common.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return "", err
	}
	return common.DocumentStatus(status), nil
}

func (s *GraphDBStorage) SetDocumentStatus(ctx context.Context, documentID string, status common.DocumentStatus, failedChunks int) error {
	var id int64
	err := s.conn.QueryRow(ctx, setDocumentStatusSQL, documentID, string(status), failedChunks).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}
	return err
}

func (s *GraphDBStorage) AddPipelineStage(ctx context.Context, documentID string, stage common.PipelineStage) error {
	var id int64
	err := s.conn.QueryRow(ctx, addPipelineStageSQL,
		documentID, stage.Stage, stage.Status, stage.Error, stage.DurationMs,
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}
	return err
}

func (s *GraphDBStorage) GetPipelineStages(ctx context.Context, documentID string) ([]common.PipelineStage, error) {
	docID, err := resolveDocumentID(ctx, s.conn, documentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, getPipelineStagesSQL, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]common.PipelineStage, 0)
	for rows.Next() {
		var st common.PipelineStage
		if err := rows.Scan(&st.Stage, &st.Status, &st.Error, &st.DurationMs, &st.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *GraphDBStorage) GraphStats(ctx context.Context, scope store.Scope) (*common.GraphStats, error) {
	docID, err := s.scopeID(ctx, scope)
	if err != nil {
		return nil, err
	}

	stats := &common.GraphStats{
		EntityTypes:       make(map[string]int64),
		RelationshipTypes: make(map[string]int64),
	}
	err = s.conn.QueryRow(ctx, graphStatsSQL, docID).Scan(
		&stats.Documents, &stats.Entities, &stats.Relationships, &stats.Edges,
	)
	if err != nil {
		return nil, err
	}
	if stats.Entities > 0 {
		stats.AvgDegree = float64(stats.Relationships*2) / float64(stats.Entities)
	}

	if err := s.scanTypeCounts(ctx, entityTypeDistSQL, docID, stats.EntityTypes); err != nil {
		return nil, err
	}
	if err := s.scanTypeCounts(ctx, relationshipTypeDistSQL, docID, stats.RelationshipTypes); err != nil {
		return nil, err
	}

	err = s.conn.QueryRow(ctx, mostConnectedSQL, docID).Scan(&stats.MostConnected)
	if err != nil && !errors.Is(err, pgxv5.ErrNoRows) {
		return nil, err
	}
	return stats, nil
}

func (s *GraphDBStorage) scanTypeCounts(ctx context.Context, sql string, docID int64, out map[string]int64) error {
	rows, err := s.conn.Query(ctx, sql, docID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return err
		}
		out[kind] = count
	}
	return rows.Err()
}

func (s *GraphDBStorage) AddProcessStat(ctx context.Context, statType string, amount int, durationMs int64) error {
	if statType == "" {
		return &common.ValidationError{Field: "StatType", Reason: "must not be empty"}
	}
	_, err := s.conn.Exec(ctx, addProcessStatSQL, statType, amount, durationMs)
	return err
}

func (s *GraphDBStorage) PredictDuration(ctx context.Context, statType string, amount int) (int64, error) {
	var perUnit float64
	err := s.conn.QueryRow(ctx, predictDurationSQL, statType, store.PredictionWindow).Scan(&perUnit)
	if err != nil {
		return 0, err
	}
	return int64(perUnit * float64(amount)), nil
}

func (s *GraphDBStorage) RecoverStaleDocuments(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, &common.ValidationError{Field: "olderThan", Reason: "must be positive"}
	}

	rows, err := s.conn.Query(ctx, recoverStaleDocumentsSQL, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recovered := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		recovered = append(recovered, id)
	}
	return recovered, rows.Err()
}

const getDocumentStatusSQL = `
SELECT status FROM documents WHERE public_id = $1;
`

const setDocumentStatusSQL = `
UPDATE documents
SET status = $2, failed_chunks = $3, updated_at = now()
WHERE public_id = $1
RETURNING id;
`

const addPipelineStageSQL = `
INSERT INTO pipeline_stages (document_id, stage, status, error, duration_ms)
SELECT id, $2, $3, $4, $5 FROM documents WHERE public_id = $1
RETURNING id;
`

const getPipelineStagesSQL = `
SELECT stage, status, COALESCE(error, ''), duration_ms, created_at
FROM pipeline_stages
WHERE document_id = $1
ORDER BY id;
`

const graphStatsSQL = `
SELECT
    (SELECT COUNT(*) FROM documents d WHERE $1::bigint = 0 OR d.id = $1),
    (SELECT COUNT(*) FROM entities e WHERE $1::bigint = 0 OR e.document_id = $1),
    (SELECT COUNT(*) FROM relationships r WHERE $1::bigint = 0 OR r.document_id = $1),
    (SELECT COUNT(*) FROM entity_edges ed
     JOIN relationships r ON r.id = ed.relationship_id
     WHERE $1::bigint = 0 OR r.document_id = $1);
`

const entityTypeDistSQL = `
SELECT type, COUNT(*) FROM entities
WHERE $1::bigint = 0 OR document_id = $1
GROUP BY type;
`

const relationshipTypeDistSQL = `
SELECT type, COUNT(*) FROM relationships
WHERE $1::bigint = 0 OR document_id = $1
GROUP BY type;
`

const mostConnectedSQL = `
SELECT e.public_id
FROM relationships r
CROSS JOIN LATERAL (VALUES (r.source_id), (r.target_id)) AS endp(entity_id)
JOIN entities e ON e.id = endp.entity_id
WHERE $1::bigint = 0 OR r.document_id = $1
GROUP BY e.public_id
ORDER BY COUNT(*) DESC, e.public_id
LIMIT 1;
`

const addProcessStatSQL = `
INSERT INTO process_stats (stat_type, amount, duration_ms) VALUES ($1, $2, $3);
`

const predictDurationSQL = `
SELECT COALESCE(SUM(duration_ms)::double precision / NULLIF(SUM(amount), 0), 0)
FROM (
    SELECT amount, duration_ms
    FROM process_stats
    WHERE stat_type = $1
    ORDER BY id DESC
    LIMIT $2
) recent;
`

const recoverStaleDocumentsSQL = `
UPDATE documents
SET status = 'pending', updated_at = now()
WHERE status = 'extracting' AND updated_at < now() - make_interval(secs => $1)
RETURNING public_id;
`
