package graph

import (
	"github.com/tracemap/cartograph/pkg/ai"
	"github.com/tracemap/cartograph/pkg/chunk"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

// Default extraction thresholds. Candidates below them are discarded and
// counted, never committed.
const (
	DefaultEntityConfidenceThreshold       = 0.5
	DefaultRelationshipConfidenceThreshold = 0.6
)

const (
	defaultParallelChunks = 4
	defaultMaxRetries     = 3
)

// ExtractionClient drives the document extraction pipeline: chunking,
// embedding, candidate generation, and graph commit against a GraphStorage.
//
// An ExtractionClient should be created using NewExtractionClient.
type ExtractionClient struct {
	store     store.GraphStorage
	ai        ai.Client
	generator CandidateGenerator
	splitter  chunk.Splitter
	locker    DocumentLocker

	parallelChunks        int
	maxRetries            int
	entityThreshold       float64
	relationshipThreshold float64
}

// NewExtractionClientParams defines the configuration for creating a new
// ExtractionClient.
//
// Store and AI are required; AI answers embedding requests and backs the
// default candidate generator. Generator, Splitter, and Locker replace the
// defaults (LLM generator, token splitter, in-process per-document locker)
// when set. ParallelChunks bounds concurrent chunk work per document,
// MaxRetries caps generator attempts per chunk, and the thresholds discard
// low-confidence candidates.
type NewExtractionClientParams struct {
	Store     store.GraphStorage
	AI        ai.Client
	Generator CandidateGenerator
	Splitter  chunk.Splitter
	Locker    DocumentLocker

	ParallelChunks                  int
	MaxRetries                      int
	TokenEncoder                    string
	ChunkSize                       int
	ChunkOverlap                    int
	EntityConfidenceThreshold       float64
	RelationshipConfidenceThreshold float64
}

// NewExtractionClient creates and returns a new ExtractionClient configured
// with the provided parameters.
func NewExtractionClient(params NewExtractionClientParams) (*ExtractionClient, error) {
	if params.Store == nil {
		return nil, &common.ValidationError{Field: "Store", Reason: "must not be nil"}
	}
	if params.AI == nil {
		return nil, &common.ValidationError{Field: "AI", Reason: "must not be nil"}
	}

	parallel := params.ParallelChunks
	if parallel <= 0 {
		parallel = defaultParallelChunks
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	entityThreshold := params.EntityConfidenceThreshold
	if entityThreshold <= 0 {
		entityThreshold = DefaultEntityConfidenceThreshold
	}
	relationshipThreshold := params.RelationshipConfidenceThreshold
	if relationshipThreshold <= 0 {
		relationshipThreshold = DefaultRelationshipConfidenceThreshold
	}

	splitter := params.Splitter
	if splitter == nil {
		s, err := chunk.NewTokenSplitter(chunk.NewTokenSplitterParams{
			TokenEncoder: params.TokenEncoder,
			ChunkSize:    params.ChunkSize,
			Overlap:      params.ChunkOverlap,
		})
		if err != nil {
			return nil, err
		}
		splitter = s
	}

	generator := params.Generator
	if generator == nil {
		generator = NewLLMGenerator(params.AI, entityThreshold, relationshipThreshold)
	}

	locker := params.Locker
	if locker == nil {
		locker = NewProcessLocker()
	}

	c := &ExtractionClient{
		store:                 params.Store,
		ai:                    params.AI,
		generator:             generator,
		splitter:              splitter,
		locker:                locker,
		parallelChunks:        parallel,
		maxRetries:            maxRetries,
		entityThreshold:       entityThreshold,
		relationshipThreshold: relationshipThreshold,
	}

	return c, nil
}
