package store

import (
	"context"
	"time"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
)

// Scope restricts an operation to a single document's subgraph. The zero
// value spans the whole store.
type Scope struct {
	Document string
}

// Global reports whether the scope spans every document.
func (s Scope) Global() bool { return s.Document == "" }

// SearchHit is one scored chunk returned by a single retrieval signal. Score
// is signal-local (cosine similarity, ts_rank) and only comparable to scores
// from the same signal; cross-signal fusion happens in the ranker.
type SearchHit struct {
	ID       string  `json:"id"`
	Document string  `json:"document"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

// EntityMatch is a fuzzy name match used to seed graph-proximity retrieval.
type EntityMatch struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       common.EntityType `json:"type"`
	Similarity float64           `json:"similarity"`
}

// DocumentStorage persists documents and their chunks. SaveChunks replaces
// any previously stored chunks of the document, so reprocessing starts from
// a clean slate.
type DocumentStorage interface {
	CreateDocument(ctx context.Context, name, content string) (*common.Document, error)
	GetDocument(ctx context.Context, documentID string) (*common.Document, error)
	GetDocumentContent(ctx context.Context, documentID string) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error

	SaveChunks(ctx context.Context, documentID string, chunks []common.Chunk) error
	GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error)
}

// StatusStorage records pipeline progress and aggregate graph figures.
type StatusStorage interface {
	GetDocumentStatus(ctx context.Context, documentID string) (common.DocumentStatus, error)
	SetDocumentStatus(ctx context.Context, documentID string, status common.DocumentStatus, failedChunks int) error
	AddPipelineStage(ctx context.Context, documentID string, stage common.PipelineStage) error
	GetPipelineStages(ctx context.Context, documentID string) ([]common.PipelineStage, error)
	GraphStats(ctx context.Context, scope Scope) (*common.GraphStats, error)

	AddProcessStat(ctx context.Context, statType string, amount int, durationMs int64) error
	PredictDuration(ctx context.Context, statType string, amount int) (int64, error)

	// RecoverStaleDocuments resets documents stuck in extracting back to
	// pending once their last update is older than the cutoff. Workers call
	// it at boot to reclaim documents orphaned by a crashed consumer.
	RecoverStaleDocuments(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// SearchStorage exposes the per-signal retrieval adapters consumed by the
// ranker. Implementations return at most k rows, ordered by descending score.
type SearchStorage interface {
	TopKByVector(ctx context.Context, queryVector []float32, k int, scope Scope) ([]SearchHit, error)
	TopKByText(ctx context.Context, queryText string, k int, scope Scope) ([]SearchHit, error)
	MatchEntities(ctx context.Context, queryText string, scope Scope, limit int) ([]EntityMatch, error)
}

// GraphStorage is the full persistence contract for the knowledge graph:
// documents and chunks, canonical entities, typed relationships, and the
// adjacency structure derived from them. All identifiers crossing this
// interface are public ids; internal row and node ids never leak.
//
// Every mutating operation is transactional. UpsertRelationship in
// particular commits the relationship row and its adjacency edge together,
// so the graph structure cannot diverge from the relationship table. Reads
// that surface a divergence anyway report it as a common.ConsistencyError.
type GraphStorage interface {
	DocumentStorage
	StatusStorage
	SearchStorage

	// UpsertEntity merges the candidate into the document's canonical
	// entity set, keyed by (document, type, normalized name); it returns
	// the public id of the canonical entity. Merging keeps the maximum
	// confidence and shallow-merges metadata, candidate values winning.
	UpsertEntity(ctx context.Context, candidate common.EntityCandidate) (string, error)
	GetEntity(ctx context.Context, entityID string) (*common.Entity, error)
	// ResolveEntities returns the document's committed entities ordered by
	// confidence descending, name ascending.
	ResolveEntities(ctx context.Context, documentID string) ([]common.Entity, error)
	DeleteEntity(ctx context.Context, entityID string) error

	// UpsertRelationship validates both endpoints against the candidate's
	// document scope, allocates node ids for endpoints that have none, and
	// writes the relationship row plus its adjacency edge in one
	// transaction. Re-upserting an existing (source, target, type,
	// document) refreshes confidence and edge cost instead of duplicating.
	UpsertRelationship(ctx context.Context, candidate common.RelationshipCandidate) (string, error)
	GetRelationships(ctx context.Context, documentID string) ([]common.Relationship, error)

	GetNeighbors(ctx context.Context, entityID string) ([]string, error)
	LoadAdjacency(ctx context.Context, scope Scope) (*graphalgo.Snapshot, error)
}
