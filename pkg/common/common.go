package common

import "time"

// Entity represents a canonical node in the knowledge graph. An entity can be
// a person, organization, location, or any other concept from the type
// taxonomy. Multiple mentions of the same real-world thing within a document
// collapse into one canonical entity during extraction.
//
// Confidence is the running maximum over all merged mentions. Metadata is a
// shallow key/value bag; on merge, candidate values win on key collision.
type Entity struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       EntityType        `json:"type"`
	Confidence float64           `json:"confidence"`
	Document   string            `json:"document"`
	Chunk      string            `json:"chunk,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
}

// Relationship represents a typed, confidence-scored edge between two
// entities of the same document. (Source, Target, Type, Document) is unique;
// re-extraction of the same fact refreshes confidence instead of duplicating.
//
// Weight feeds the derived traversal cost (1 - confidence) * weight.
type Relationship struct {
	ID         string           `json:"id"`
	Document   string           `json:"document"`
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       RelationshipType `json:"type"`
	Confidence float64          `json:"confidence"`
	Weight     float64          `json:"weight"`
}

// EntityCandidate is a proposed entity produced by the candidate generator
// for a single chunk, before merge and commit.
type EntityCandidate struct {
	Name       string            `json:"name"`
	Type       EntityType        `json:"type"`
	Confidence float64           `json:"confidence"`
	Document   string            `json:"document"`
	Chunk      string            `json:"chunk,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RelationshipCandidate is a proposed relationship referencing already
// committed entity ids. Candidates whose endpoints do not resolve, or whose
// confidence falls below the configured threshold, are discarded per
// candidate without aborting the batch.
type RelationshipCandidate struct {
	Document   string           `json:"document"`
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       RelationshipType `json:"type"`
	Confidence float64          `json:"confidence"`
	Weight     float64          `json:"weight,omitempty"`
}

// DocumentStatus tracks a document through the extraction pipeline. There is
// no terminal failed state for a whole document: partial results stay
// queryable.
type DocumentStatus string

const (
	StatusPending         DocumentStatus = "pending"
	StatusExtracting      DocumentStatus = "extracting"
	StatusCommitted       DocumentStatus = "committed"
	StatusPartiallyFailed DocumentStatus = "partially_failed"
)

// Document is the unit of ingestion and the scope of entity canonicalization.
type Document struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	FailedChunks int            `json:"failed_chunks"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Chunk is a stored text span of a document, the corpus for vector and
// full-text retrieval. Embedding may be nil when embedding generation failed
// for the chunk; such chunks stay reachable through full-text search.
type Chunk struct {
	ID         string    `json:"id"`
	Document   string    `json:"document"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
}

// PipelineStage is one recorded phase of a document's extraction run.
type PipelineStage struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pipeline stage names, in execution order.
const (
	StageChunking               = "chunking"
	StageEmbedding              = "embedding"
	StageEntityExtraction       = "entity_extraction"
	StageRelationshipExtraction = "relationship_extraction"
	StageGraphConstruction      = "graph_construction"
)

// GraphStats summarizes the stored graph for a scope. AvgDegree counts each
// undirected relationship twice, once per endpoint.
type GraphStats struct {
	Documents         int64            `json:"documents"`
	Entities          int64            `json:"entities"`
	Relationships     int64            `json:"relationships"`
	Edges             int64            `json:"edges"`
	AvgDegree         float64          `json:"avg_degree"`
	MostConnected     string           `json:"most_connected_entity,omitempty"`
	EntityTypes       map[string]int64 `json:"entity_types"`
	RelationshipTypes map[string]int64 `json:"relationship_types"`
}
