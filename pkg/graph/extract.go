package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracemap/cartograph/pkg/ai"
	"github.com/tracemap/cartograph/pkg/common"
)

// DocumentContext carries the document-level hints a generator may use when
// prompting over a single chunk.
type DocumentContext struct {
	DocumentID   string
	DocumentName string
}

// CandidateGenerator produces typed entity and relationship candidates from
// one chunk of text. Implementations must be safe for concurrent use; calls
// are retried on transient failure, so generation must be repeatable.
//
// ExtractRelationships receives the committed entities of the document as
// formatted reference lines (see FormatEntityRefs) and must answer with exact
// entity ids. Candidates referencing unknown ids are dropped per candidate by
// the caller.
type CandidateGenerator interface {
	ExtractEntities(ctx context.Context, docCtx DocumentContext, chunkText string) ([]common.EntityCandidate, error)
	ExtractRelationships(ctx context.Context, docCtx DocumentContext, entityRefs string, chunkText string) ([]common.RelationshipCandidate, error)
}

// FormatEntityRefs renders committed entities as the reference list handed to
// the relationship prompt, one entity per line.
func FormatEntityRefs(entities []common.Entity) string {
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- ID: %s | Name: %s | Type: %s | Confidence: %.2f\n", e.ID, e.Name, e.Type, e.Confidence)
	}
	return b.String()
}

type wireEntity struct {
	EntityName        string  `json:"entity_name" jsonschema_description:"Name of the entity, using the exact text mention where possible"`
	EntityType        string  `json:"entity_type" jsonschema_description:"One of the provided entity types"`
	EntityDescription string  `json:"entity_description" jsonschema_description:"Short factual description built only from the chunk text"`
	Confidence        float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0.0 and 1.0"`
}

type wireEntityList struct {
	Entities []wireEntity `json:"entities" jsonschema_description:"Entities identified in the chunk"`
}

type wireRelationship struct {
	SourceEntityID          string  `json:"source_entity_id" jsonschema_description:"ID of the source entity, copied exactly from the provided entity list"`
	TargetEntityID          string  `json:"target_entity_id" jsonschema_description:"ID of the target entity, copied exactly from the provided entity list"`
	RelationshipType        string  `json:"relationship_type" jsonschema_description:"One of the provided relationship types"`
	RelationshipDescription string  `json:"relationship_description" jsonschema_description:"Why the two entities are related, based on the chunk text"`
	Confidence              float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0.0 and 1.0"`
	Weight                  float64 `json:"weight" jsonschema_description:"Strength of the connection between 0.0 and 1.0"`
}

type wireRelationshipList struct {
	Relationships []wireRelationship `json:"relationships" jsonschema_description:"Relationships identified in the chunk"`
}

// NewLLMGenerator returns the default CandidateGenerator: schema-constrained
// completions against the given AI client, prompted with the type taxonomies
// and the confidence thresholds below which candidates are discarded.
func NewLLMGenerator(client ai.Client, entityThreshold, relationshipThreshold float64) CandidateGenerator {
	return &llmGenerator{
		client:                client,
		entityThreshold:       entityThreshold,
		relationshipThreshold: relationshipThreshold,
	}
}

type llmGenerator struct {
	client                ai.Client
	entityThreshold       float64
	relationshipThreshold float64
}

func (g *llmGenerator) ExtractEntities(ctx context.Context, docCtx DocumentContext, chunkText string) ([]common.EntityCandidate, error) {
	systemPrompt := fmt.Sprintf(ai.EntityExtractPrompt, entityTypeLines(), docCtx.DocumentName, g.entityThreshold)

	var res wireEntityList
	err := g.client.GenerateCompletionWithFormat(
		ctx,
		"extract_entities",
		"Extract the entities mentioned in one chunk of a document.",
		chunkText,
		&res,
		ai.WithSystemPrompts(systemPrompt),
	)
	if err != nil {
		return nil, &common.UpstreamError{Service: "candidate generator", Err: err}
	}

	candidates := make([]common.EntityCandidate, 0, len(res.Entities))
	for _, e := range res.Entities {
		c := common.EntityCandidate{
			Name:       e.EntityName,
			Type:       common.NormalizeEntityType(e.EntityType),
			Confidence: e.Confidence,
		}
		if d := strings.TrimSpace(e.EntityDescription); d != "" {
			c.Metadata = map[string]string{"description": d}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (g *llmGenerator) ExtractRelationships(ctx context.Context, docCtx DocumentContext, entityRefs string, chunkText string) ([]common.RelationshipCandidate, error) {
	systemPrompt := fmt.Sprintf(ai.RelationshipExtractPrompt, relationshipTypeLines(), docCtx.DocumentName, entityRefs, g.relationshipThreshold)

	var res wireRelationshipList
	err := g.client.GenerateCompletionWithFormat(
		ctx,
		"extract_relationships",
		"Extract relationships between the committed entities of a document from one chunk of its text.",
		chunkText,
		&res,
		ai.WithSystemPrompts(systemPrompt),
	)
	if err != nil {
		return nil, &common.UpstreamError{Service: "candidate generator", Err: err}
	}

	// The description is elicited to ground the model's answer; it is not
	// persisted with the relationship row.
	candidates := make([]common.RelationshipCandidate, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		candidates = append(candidates, common.RelationshipCandidate{
			SourceID:   strings.TrimSpace(r.SourceEntityID),
			TargetID:   strings.TrimSpace(r.TargetEntityID),
			Type:       common.RelationshipType(r.RelationshipType),
			Confidence: r.Confidence,
			Weight:     r.Weight,
		})
	}
	return candidates, nil
}

func entityTypeLines() string {
	var b strings.Builder
	for _, t := range common.EntityTypes() {
		fmt.Fprintf(&b, "  - %s: %s\n", t, common.EntityTypeDescriptions[t])
	}
	return b.String()
}

func relationshipTypeLines() string {
	var b strings.Builder
	for _, t := range common.RelationshipTypes() {
		fmt.Fprintf(&b, "  - %s: %s\n", t, common.RelationshipTypeDescriptions[t])
	}
	return b.String()
}
