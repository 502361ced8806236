package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"
)

func (s *GraphDBStorage) UpsertEntity(ctx context.Context, candidate common.EntityCandidate) (string, error) {
	if err := store.ValidateEntityCandidate(candidate); err != nil {
		return "", err
	}
	candidate.Type = common.NormalizeEntityType(string(candidate.Type))

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate entity id: %w", err)
	}
	var metadata []byte
	if len(candidate.Metadata) > 0 {
		metadata, err = json.Marshal(candidate.Metadata)
		if err != nil {
			return "", err
		}
	}

	docID, err := resolveDocumentID(ctx, s.conn, candidate.Document)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(candidate.Name)
	var publicID string
	err = s.conn.QueryRow(ctx, upsertEntitySQL,
		id, docID, candidate.Chunk, name, util.NormalizeText(name),
		string(candidate.Type), candidate.Confidence, metadata,
	).Scan(&publicID)
	if err != nil {
		return "", err
	}
	return publicID, nil
}

func (s *GraphDBStorage) GetEntity(ctx context.Context, entityID string) (*common.Entity, error) {
	ent := &common.Entity{}
	var kind string
	var metadata []byte
	err := s.conn.QueryRow(ctx, getEntitySQL, entityID).Scan(
		&ent.ID, &ent.Name, &kind, &ent.Confidence, &ent.Document, &ent.Chunk, &metadata,
	)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, &common.NotFoundError{Kind: "entity", ID: entityID}
	}
	if err != nil {
		return nil, err
	}
	ent.Type = common.EntityType(kind)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ent.Metadata); err != nil {
			return nil, err
		}
	}
	return ent, nil
}

func (s *GraphDBStorage) ResolveEntities(ctx context.Context, documentID string) ([]common.Entity, error) {
	docID, err := resolveDocumentID(ctx, s.conn, documentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, resolveEntitiesSQL, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]common.Entity, 0)
	for rows.Next() {
		ent := common.Entity{Document: documentID}
		var kind string
		var metadata []byte
		if err := rows.Scan(&ent.ID, &ent.Name, &kind, &ent.Confidence, &ent.Chunk, &metadata); err != nil {
			return nil, err
		}
		ent.Type = common.EntityType(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ent.Metadata); err != nil {
				return nil, err
			}
		}
		entities = append(entities, ent)
	}
	return entities, rows.Err()
}

// DeleteEntity removes the entity together with its incident relationships,
// their edges, and its node mapping.
func (s *GraphDBStorage) DeleteEntity(ctx context.Context, entityID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	entID, err := resolveEntityID(ctx, tx, entityID)
	if err != nil {
		return err
	}

	logger.Debug("[Store][DeleteEntity] Cascading delete", "entity", entityID)
	for _, sql := range []string{
		deleteEntityEdgesSQL,
		deleteEntityRelationshipsSQL,
		deleteEntityNodeSQL,
		deleteEntitySQL,
	} {
		if _, err := tx.Exec(ctx, sql, entID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpsertRelationship commits the relationship row and its adjacency edge in
// one transaction. Endpoints must both be live entities of the candidate's
// document; node ids are allocated from the counters table on first use.
func (s *GraphDBStorage) UpsertRelationship(ctx context.Context, candidate common.RelationshipCandidate) (string, error) {
	if err := store.ValidateRelationshipCandidate(candidate); err != nil {
		return "", err
	}
	if kind, ok := common.ParseRelationshipType(string(candidate.Type)); ok {
		candidate.Type = kind
	}
	weight := store.EffectiveWeight(candidate.Weight)
	cost := graphalgo.EdgeCost(candidate.Confidence, weight)

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate relationship id: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	docID, err := resolveDocumentID(ctx, tx, candidate.Document)
	if err != nil {
		return "", err
	}
	srcID, err := resolveScopedEntity(ctx, tx, candidate.SourceID, docID)
	if err != nil {
		return "", err
	}
	tgtID, err := resolveScopedEntity(ctx, tx, candidate.TargetID, docID)
	if err != nil {
		return "", err
	}

	srcNode, err := ensureNode(ctx, tx, srcID)
	if err != nil {
		return "", err
	}
	tgtNode, err := ensureNode(ctx, tx, tgtID)
	if err != nil {
		return "", err
	}

	var relID int64
	var publicID string
	err = tx.QueryRow(ctx, upsertRelationshipSQL,
		id, docID, srcID, tgtID, string(candidate.Type), candidate.Confidence, weight,
	).Scan(&relID, &publicID)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, upsertEdgeSQL, srcNode, tgtNode, cost, cost, relID); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return publicID, nil
}

func (s *GraphDBStorage) GetRelationships(ctx context.Context, documentID string) ([]common.Relationship, error) {
	docID, err := resolveDocumentID(ctx, s.conn, documentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, getRelationshipsSQL, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	relations := make([]common.Relationship, 0)
	for rows.Next() {
		rel := common.Relationship{Document: documentID}
		var kind string
		if err := rows.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &kind, &rel.Confidence, &rel.Weight); err != nil {
			return nil, err
		}
		rel.Type = common.RelationshipType(kind)
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

func (s *GraphDBStorage) GetNeighbors(ctx context.Context, entityID string) ([]string, error) {
	entID, err := resolveEntityID(ctx, s.conn, entityID)
	if err != nil {
		return nil, err
	}

	var node int64
	err = s.conn.QueryRow(ctx, getNodeSQL, entID).Scan(&node)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, getNeighborsSQL, node)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	neighbors := make([]string, 0)
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, peer)
	}
	return neighbors, rows.Err()
}

// LoadAdjacency builds an integer-indexed snapshot of the scoped adjacency
// structure. It also probes for divergence between the relationship table
// and the edge table; any mismatch is reported as a ConsistencyError and
// never papered over.
func (s *GraphDBStorage) LoadAdjacency(ctx context.Context, scope store.Scope) (*graphalgo.Snapshot, error) {
	var docID int64
	if !scope.Global() {
		var err error
		docID, err = resolveDocumentID(ctx, s.conn, scope.Document)
		if err != nil {
			return nil, err
		}
	}

	var orphanEdges, unlinkedRelations int64
	if err := s.conn.QueryRow(ctx, adjacencyDivergenceSQL).Scan(&orphanEdges, &unlinkedRelations); err != nil {
		return nil, err
	}
	if orphanEdges > 0 || unlinkedRelations > 0 {
		cerr := &common.ConsistencyError{Detail: fmt.Sprintf(
			"adjacency diverged from relationships: %d orphan edges, %d relationships without edge",
			orphanEdges, unlinkedRelations,
		)}
		logger.Error("[Store][LoadAdjacency] "+cerr.Detail, "orphan_edges", orphanEdges, "unlinked_relationships", unlinkedRelations)
		return nil, cerr
	}

	snap := graphalgo.NewSnapshot(0)

	nodeRows, err := s.conn.Query(ctx, loadNodesSQL, docID)
	if err != nil {
		return nil, err
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var node int64
		var entityID, name string
		if err := nodeRows.Scan(&node, &entityID, &name); err != nil {
			return nil, err
		}
		snap.AddNode(node, entityID, name)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.conn.Query(ctx, loadEdgesSQL, docID)
	if err != nil {
		return nil, err
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var source, target int64
		var cost, reverseCost float64
		var relationshipID string
		if err := edgeRows.Scan(&source, &target, &cost, &reverseCost, &relationshipID); err != nil {
			return nil, err
		}
		if err := snap.AddEdge(source, target, cost, reverseCost, relationshipID); err != nil {
			logger.Error("[Store][LoadAdjacency] Rejected edge", "relationship", relationshipID, "error", err)
			return nil, err
		}
	}
	return snap, edgeRows.Err()
}

func resolveScopedEntity(ctx context.Context, q queryRower, publicID string, docID int64) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, resolveScopedEntitySQL, publicID, docID).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrInvalidEndpoint, publicID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func ensureNode(ctx context.Context, tx pgxv5.Tx, entityID int64) (int64, error) {
	var node int64
	err := tx.QueryRow(ctx, getNodeSQL, entityID).Scan(&node)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, pgxv5.ErrNoRows) {
		return 0, err
	}
	// The counter row is seeded by the migrations; its absence is a deploy
	// defect and surfaces as ErrNoRows here.
	if err := tx.QueryRow(ctx, nextNodeIDSQL).Scan(&node); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, insertNodeSQL, node, entityID); err != nil {
		return 0, err
	}
	return node, nil
}

const upsertEntitySQL = `
INSERT INTO entities (public_id, document_id, chunk_id, name, normalized_name, type, confidence, metadata)
VALUES ($1, $2, (SELECT id FROM chunks WHERE document_id = $2 AND public_id = $3), $4, $5, $6, $7, $8)
ON CONFLICT (document_id, type, normalized_name) DO UPDATE
SET confidence = GREATEST(entities.confidence, EXCLUDED.confidence),
    metadata   = COALESCE(entities.metadata, '{}'::jsonb) || COALESCE(EXCLUDED.metadata, '{}'::jsonb),
    updated_at = now()
RETURNING public_id;
`

const getEntitySQL = `
SELECT e.public_id, e.name, e.type, e.confidence, d.public_id, COALESCE(c.public_id, ''), e.metadata
FROM entities e
JOIN documents d ON d.id = e.document_id
LEFT JOIN chunks c ON c.id = e.chunk_id
WHERE e.public_id = $1;
`

const resolveEntitiesSQL = `
SELECT e.public_id, e.name, e.type, e.confidence, COALESCE(c.public_id, ''), e.metadata
FROM entities e
LEFT JOIN chunks c ON c.id = e.chunk_id
WHERE e.document_id = $1
ORDER BY e.confidence DESC, e.name ASC;
`

const deleteEntityEdgesSQL = `
DELETE FROM entity_edges
WHERE relationship_id IN (
    SELECT id FROM relationships WHERE source_id = $1 OR target_id = $1
);
`

const deleteEntityRelationshipsSQL = `
DELETE FROM relationships WHERE source_id = $1 OR target_id = $1;
`

const deleteEntityNodeSQL = `
DELETE FROM entity_nodes WHERE entity_id = $1;
`

const deleteEntitySQL = `
DELETE FROM entities WHERE id = $1;
`

const resolveScopedEntitySQL = `
SELECT id FROM entities WHERE public_id = $1 AND document_id = $2;
`

const getNodeSQL = `
SELECT node_id FROM entity_nodes WHERE entity_id = $1;
`

const nextNodeIDSQL = `
UPDATE counters SET value = value + 1 WHERE name = 'entity_node' RETURNING value;
`

const insertNodeSQL = `
INSERT INTO entity_nodes (node_id, entity_id) VALUES ($1, $2);
`

const upsertRelationshipSQL = `
INSERT INTO relationships (public_id, document_id, source_id, target_id, type, confidence, weight)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_id, target_id, type, document_id) DO UPDATE
SET confidence = EXCLUDED.confidence,
    weight     = EXCLUDED.weight,
    updated_at = now()
RETURNING id, public_id;
`

const upsertEdgeSQL = `
INSERT INTO entity_edges (source_node, target_node, cost, reverse_cost, relationship_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (relationship_id) DO UPDATE
SET cost         = EXCLUDED.cost,
    reverse_cost = EXCLUDED.reverse_cost;
`

const getRelationshipsSQL = `
SELECT r.public_id, se.public_id, te.public_id, r.type, r.confidence, r.weight
FROM relationships r
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE r.document_id = $1
ORDER BY r.public_id;
`

const getNeighborsSQL = `
SELECT DISTINCT pe.public_id
FROM entity_edges ed
JOIN entity_nodes pn
  ON pn.node_id = CASE WHEN ed.source_node = $1 THEN ed.target_node ELSE ed.source_node END
JOIN entities pe ON pe.id = pn.entity_id
WHERE ed.source_node = $1 OR ed.target_node = $1
ORDER BY pe.public_id;
`

const loadNodesSQL = `
SELECT n.node_id, e.public_id, e.name
FROM entity_nodes n
JOIN entities e ON e.id = n.entity_id
WHERE $1::bigint = 0 OR e.document_id = $1;
`

const loadEdgesSQL = `
SELECT ed.source_node, ed.target_node, ed.cost, ed.reverse_cost, r.public_id
FROM entity_edges ed
JOIN relationships r ON r.id = ed.relationship_id
WHERE $1::bigint = 0 OR r.document_id = $1;
`

const adjacencyDivergenceSQL = `
SELECT
    (SELECT COUNT(*) FROM entity_edges ed
     LEFT JOIN relationships r ON r.id = ed.relationship_id
     WHERE r.id IS NULL),
    (SELECT COUNT(*) FROM relationships r
     LEFT JOIN entity_edges ed ON ed.relationship_id = r.id
     WHERE ed.id IS NULL);
`
