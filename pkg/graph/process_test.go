package graph

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/tracemap/cartograph/pkg/chunk"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/store"
	"github.com/tracemap/cartograph/pkg/store/memory"
)

// lineSplitter cuts content on newlines, one chunk per non-empty line.
type lineSplitter struct{}

func (lineSplitter) Split(ctx context.Context, text string) ([]chunk.Span, error) {
	var spans []chunk.Span
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		spans = append(spans, chunk.Span{Index: len(spans), Text: line, TokenCount: len(strings.Fields(line))})
	}
	return spans, nil
}

type scriptedEntity struct {
	name       string
	kind       common.EntityType
	confidence float64
}

type scriptedRelationship struct {
	source     string // entity name, resolved against the refs block
	target     string
	kind       common.RelationshipType
	confidence float64
	weight     float64
}

// scriptedGenerator answers per chunk text from fixed scripts. Relationship
// endpoints are given as entity names and resolved to committed ids through
// the refs block the pipeline hands over; names missing from the refs pass
// through verbatim and act as invalid references.
type scriptedGenerator struct {
	mu            sync.Mutex
	entities      map[string][]scriptedEntity
	relationships map[string][]scriptedRelationship
	entityErr     map[string]error
	entityCalls   map[string]int
}

func (g *scriptedGenerator) ExtractEntities(ctx context.Context, docCtx DocumentContext, chunkText string) ([]common.EntityCandidate, error) {
	g.mu.Lock()
	if g.entityCalls == nil {
		g.entityCalls = make(map[string]int)
	}
	g.entityCalls[chunkText]++
	err := g.entityErr[chunkText]
	script := g.entities[chunkText]
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	candidates := make([]common.EntityCandidate, 0, len(script))
	for _, e := range script {
		candidates = append(candidates, common.EntityCandidate{Name: e.name, Type: e.kind, Confidence: e.confidence})
	}
	return candidates, nil
}

func (g *scriptedGenerator) ExtractRelationships(ctx context.Context, docCtx DocumentContext, entityRefs, chunkText string) ([]common.RelationshipCandidate, error) {
	g.mu.Lock()
	script := g.relationships[chunkText]
	g.mu.Unlock()

	ids := refIDsByName(entityRefs)
	candidates := make([]common.RelationshipCandidate, 0, len(script))
	for _, r := range script {
		src, ok := ids[r.source]
		if !ok {
			src = r.source
		}
		tgt, ok := ids[r.target]
		if !ok {
			tgt = r.target
		}
		candidates = append(candidates, common.RelationshipCandidate{
			SourceID:   src,
			TargetID:   tgt,
			Type:       r.kind,
			Confidence: r.confidence,
			Weight:     r.weight,
		})
	}
	return candidates, nil
}

func (g *scriptedGenerator) calls(chunkText string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entityCalls[chunkText]
}

// refIDsByName parses the reference block built by FormatEntityRefs back into
// a name to id map.
func refIDsByName(refs string) map[string]string {
	ids := make(map[string]string)
	for _, line := range strings.Split(refs, "\n") {
		if !strings.HasPrefix(line, "- ID: ") {
			continue
		}
		fields := strings.Split(line, " | ")
		if len(fields) < 2 {
			continue
		}
		id := strings.TrimPrefix(fields[0], "- ID: ")
		name := strings.TrimPrefix(fields[1], "Name: ")
		ids[name] = id
	}
	return ids
}

const (
	chunkAliceWorks = "Alice works for Acme Corporation."
	chunkAcmeBased  = "Acme Corporation is based in Paris."
	aliceContent    = chunkAliceWorks + "\n" + chunkAcmeBased
)

func aliceScripts() *scriptedGenerator {
	return &scriptedGenerator{
		entities: map[string][]scriptedEntity{
			chunkAliceWorks: {
				{"Alice", common.EntPerson, 0.9},
				{"Acme Corporation", common.EntOrganization, 0.85},
			},
			chunkAcmeBased: {
				{"Acme Corporation", common.EntOrganization, 0.8},
				{"Paris", common.EntCity, 0.9},
			},
		},
		relationships: map[string][]scriptedRelationship{
			chunkAliceWorks: {
				{source: "Alice", target: "Acme Corporation", kind: common.RelWorksFor, confidence: 0.9, weight: 0.8},
			},
			chunkAcmeBased: {
				{source: "Acme Corporation", target: "Paris", kind: common.RelLocatedIn, confidence: 0.85, weight: 0.7},
			},
		},
	}
}

func newTestClient(t *testing.T, s *memory.Store, gen CandidateGenerator, client *fakeAI) *ExtractionClient {
	t.Helper()
	c, err := NewExtractionClient(NewExtractionClientParams{
		Store:     s,
		AI:        client,
		Generator: gen,
		Splitter:  lineSplitter{},
	})
	if err != nil {
		t.Fatalf("NewExtractionClient() error = %v", err)
	}
	return c
}

func createTestDocument(t *testing.T, s *memory.Store, content string) string {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), "notes.md", content)
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	return doc.ID
}

func entityIDsByName(t *testing.T, s *memory.Store, docID string) map[string]string {
	t.Helper()
	entities, err := s.ResolveEntities(context.Background(), docID)
	if err != nil {
		t.Fatalf("ResolveEntities() error = %v", err)
	}
	ids := make(map[string]string, len(entities))
	for _, e := range entities {
		ids[e.Name] = e.ID
	}
	return ids
}

func TestProcessDocument_BuildsGraphEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	c := newTestClient(t, s, aliceScripts(), &fakeAI{})
	docID := createTestDocument(t, s, aliceContent)

	res, err := c.ProcessDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	if res.Status != common.StatusCommitted {
		t.Errorf("status = %s, want %s", res.Status, common.StatusCommitted)
	}
	if res.ChunkCount != 2 || res.FailedChunks != 0 || res.FailedEmbeddings != 0 {
		t.Errorf("chunks = %d/%d failed/%d unembedded, want 2/0/0", res.ChunkCount, res.FailedChunks, res.FailedEmbeddings)
	}
	if res.EntityCandidates != 4 || res.EntitiesCommitted != 3 || res.EntitiesDiscarded != 0 {
		t.Errorf("entities = %d candidates/%d committed/%d discarded, want 4/3/0", res.EntityCandidates, res.EntitiesCommitted, res.EntitiesDiscarded)
	}
	if res.RelationshipCandidates != 2 || res.RelationshipsCommitted != 2 || res.RelationshipsDiscarded != 0 || res.RelationshipsDropped != 0 {
		t.Errorf("relationships = %d candidates/%d committed/%d discarded/%d dropped, want 2/2/0/0",
			res.RelationshipCandidates, res.RelationshipsCommitted, res.RelationshipsDiscarded, res.RelationshipsDropped)
	}

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Status != common.StatusCommitted || doc.FailedChunks != 0 {
		t.Errorf("stored document = %s/%d failed chunks, want committed/0", doc.Status, doc.FailedChunks)
	}

	chunks, err := s.GetChunks(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d stored chunks, want 2", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", ch.Index)
		}
	}

	stages, err := s.GetPipelineStages(ctx, docID)
	if err != nil {
		t.Fatalf("GetPipelineStages() error = %v", err)
	}
	wantStages := []string{
		common.StageChunking,
		common.StageEmbedding,
		common.StageEntityExtraction,
		common.StageRelationshipExtraction,
		common.StageGraphConstruction,
	}
	if len(stages) != len(wantStages) {
		t.Fatalf("got %d pipeline stages, want %d", len(stages), len(wantStages))
	}
	for i, stage := range stages {
		if stage.Stage != wantStages[i] || stage.Status != "completed" || stage.Error != "" {
			t.Errorf("stage %d = %s/%s/%q, want %s/completed with no error", i, stage.Stage, stage.Status, stage.Error, wantStages[i])
		}
	}

	// Committed entities come back ordered by confidence desc, name asc, so
	// the merged Acme Corporation (max confidence 0.85) trails the 0.9 pair.
	entities, err := s.ResolveEntities(ctx, docID)
	if err != nil {
		t.Fatalf("ResolveEntities() error = %v", err)
	}
	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}
	if len(names) != 3 || names[0] != "Alice" || names[1] != "Paris" || names[2] != "Acme Corporation" {
		t.Errorf("entities = %v, want [Alice Paris Acme Corporation]", names)
	}

	ids := entityIDsByName(t, s, docID)
	neighbors, err := s.GetNeighbors(ctx, ids["Acme Corporation"])
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("Acme has %d neighbors, want 2", len(neighbors))
	}

	snap, err := s.LoadAdjacency(ctx, store.Scope{Document: docID})
	if err != nil {
		t.Fatalf("LoadAdjacency() error = %v", err)
	}
	steps := graphalgo.ShortestPath(snap, ids["Alice"], ids["Paris"])
	if len(steps) != 3 {
		t.Fatalf("path Alice -> Paris has %d steps, want 3 via Acme", len(steps))
	}
	// (1-0.9)*0.8 + (1-0.85)*0.7
	if got, want := steps[2].CumulativeCost, 0.185; math.Abs(got-want) > 1e-9 {
		t.Errorf("path cost = %v, want %v", got, want)
	}
}

func TestProcessDocument_ReprocessingRefreshesInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	gen := aliceScripts()
	c := newTestClient(t, s, gen, &fakeAI{})
	docID := createTestDocument(t, s, aliceContent)

	if _, err := c.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("first ProcessDocument() error = %v", err)
	}
	firstIDs := entityIDsByName(t, s, docID)

	relations, err := s.GetRelationships(ctx, docID)
	if err != nil {
		t.Fatalf("GetRelationships() error = %v", err)
	}
	var worksForID string
	for _, rel := range relations {
		if rel.Type == common.RelWorksFor {
			worksForID = rel.ID
		}
	}
	if worksForID == "" {
		t.Fatal("no WORKS_FOR relationship after the first run")
	}

	// The second extraction is less sure about the employment.
	gen.mu.Lock()
	gen.relationships[chunkAliceWorks][0].confidence = 0.7
	gen.mu.Unlock()

	res, err := c.ProcessDocument(ctx, docID)
	if err != nil {
		t.Fatalf("second ProcessDocument() error = %v", err)
	}
	if res.EntitiesCommitted != 3 || res.RelationshipsCommitted != 2 {
		t.Errorf("second run committed %d entities/%d relationships, want 3/2", res.EntitiesCommitted, res.RelationshipsCommitted)
	}

	secondIDs := entityIDsByName(t, s, docID)
	for name, id := range firstIDs {
		if secondIDs[name] != id {
			t.Errorf("entity %s changed id across runs: %s -> %s", name, id, secondIDs[name])
		}
	}

	relations, err = s.GetRelationships(ctx, docID)
	if err != nil {
		t.Fatalf("GetRelationships() error = %v", err)
	}
	if len(relations) != 2 {
		t.Fatalf("got %d relationships after reprocessing, want 2", len(relations))
	}
	for _, rel := range relations {
		if rel.Type != common.RelWorksFor {
			continue
		}
		if rel.ID != worksForID {
			t.Errorf("WORKS_FOR id changed across runs: %s -> %s", worksForID, rel.ID)
		}
		if rel.Confidence != 0.7 {
			t.Errorf("WORKS_FOR confidence = %v, want refreshed 0.7", rel.Confidence)
		}
	}

	chunks, err := s.GetChunks(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks after reprocessing, want a replaced set of 2", len(chunks))
	}

	stages, err := s.GetPipelineStages(ctx, docID)
	if err != nil {
		t.Fatalf("GetPipelineStages() error = %v", err)
	}
	if len(stages) != 10 {
		t.Errorf("got %d pipeline stages after two runs, want 10", len(stages))
	}
}

func TestProcessDocument_ChunkFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	gen := aliceScripts()
	gen.entityErr = map[string]error{chunkAcmeBased: errors.New("model unavailable")}
	c := newTestClient(t, s, gen, &fakeAI{})
	docID := createTestDocument(t, s, aliceContent)

	res, err := c.ProcessDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	if res.Status != common.StatusPartiallyFailed {
		t.Errorf("status = %s, want %s", res.Status, common.StatusPartiallyFailed)
	}
	if res.FailedChunks != 1 {
		t.Errorf("failed chunks = %d, want 1", res.FailedChunks)
	}
	// The failing chunk burns the whole retry budget before it is skipped.
	if calls := gen.calls(chunkAcmeBased); calls != 3 {
		t.Errorf("failing chunk was attempted %d times, want 3", calls)
	}

	// The healthy chunk's entities and relationship still land.
	if res.EntitiesCommitted != 2 {
		t.Errorf("entities committed = %d, want 2 from the healthy chunk", res.EntitiesCommitted)
	}
	if res.RelationshipsCommitted != 1 {
		t.Errorf("relationships committed = %d, want 1", res.RelationshipsCommitted)
	}
	// The second chunk's relationship references Paris, which never got
	// committed, so it is dropped as an invalid reference.
	if res.RelationshipsDropped != 1 {
		t.Errorf("relationships dropped = %d, want 1", res.RelationshipsDropped)
	}

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Status != common.StatusPartiallyFailed || doc.FailedChunks != 1 {
		t.Errorf("stored document = %s/%d failed chunks, want partially_failed/1", doc.Status, doc.FailedChunks)
	}

	stages, err := s.GetPipelineStages(ctx, docID)
	if err != nil {
		t.Fatalf("GetPipelineStages() error = %v", err)
	}
	var entityStage *common.PipelineStage
	for i := range stages {
		if stages[i].Stage == common.StageEntityExtraction {
			entityStage = &stages[i]
		}
	}
	if entityStage == nil {
		t.Fatal("no entity_extraction stage recorded")
	}
	if entityStage.Status != "completed" || entityStage.Error != "1 of 2 chunks failed" {
		t.Errorf("entity stage = %s/%q, want completed with a failure summary", entityStage.Status, entityStage.Error)
	}
}

func TestProcessDocument_DiscardsAndDropsCandidates(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	const line = "Bob founded Initech in 1999."
	gen := &scriptedGenerator{
		entities: map[string][]scriptedEntity{
			line: {
				{"Bob", common.EntPerson, 0.9},
				{"Initech", common.EntOrganization, 0.8},
				{"1999", common.EntDate, 0.3}, // below the entity threshold
			},
		},
		relationships: map[string][]scriptedRelationship{
			line: {
				{source: "Bob", target: "Initech", kind: common.RelWorksFor, confidence: 0.9, weight: 1.0},
				// Below the relationship threshold.
				{source: "Bob", target: "Initech", kind: common.RelRelatedTo, confidence: 0.4},
				// A self loop, rejected at commit.
				{source: "Bob", target: "Bob", kind: common.RelCollaboratesWith, confidence: 0.9},
				// References an entity that was never committed.
				{source: "Bob", target: "Spacely Sprockets", kind: common.RelCompetesWith, confidence: 0.9},
			},
		},
	}
	c := newTestClient(t, s, gen, &fakeAI{})
	docID := createTestDocument(t, s, line)

	res, err := c.ProcessDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	// Discards and drops are bookkeeping, not chunk failures.
	if res.Status != common.StatusCommitted || res.FailedChunks != 0 {
		t.Errorf("status = %s with %d failed chunks, want committed/0", res.Status, res.FailedChunks)
	}
	if res.EntityCandidates != 3 || res.EntitiesCommitted != 2 || res.EntitiesDiscarded != 1 {
		t.Errorf("entities = %d candidates/%d committed/%d discarded, want 3/2/1", res.EntityCandidates, res.EntitiesCommitted, res.EntitiesDiscarded)
	}
	if res.RelationshipCandidates != 4 || res.RelationshipsCommitted != 1 {
		t.Errorf("relationships = %d candidates/%d committed, want 4/1", res.RelationshipCandidates, res.RelationshipsCommitted)
	}
	if res.RelationshipsDiscarded != 1 {
		t.Errorf("relationships discarded = %d, want 1 below threshold", res.RelationshipsDiscarded)
	}
	if res.RelationshipsDropped != 2 {
		t.Errorf("relationships dropped = %d, want 2 (self loop and unknown reference)", res.RelationshipsDropped)
	}

	relations, err := s.GetRelationships(ctx, docID)
	if err != nil {
		t.Fatalf("GetRelationships() error = %v", err)
	}
	if len(relations) != 1 || relations[0].Type != common.RelWorksFor {
		t.Errorf("stored relationships = %v, want only WORKS_FOR", relations)
	}
}

func TestProcessDocument_EmbeddingFailureKeepsChunkSearchable(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	client := &fakeAI{embedErr: map[string]error{chunkAcmeBased: errors.New("embedding backend down")}}
	c := newTestClient(t, s, aliceScripts(), client)
	docID := createTestDocument(t, s, aliceContent)

	res, err := c.ProcessDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	// A lost embedding is not a failed chunk; extraction proceeded.
	if res.Status != common.StatusCommitted || res.FailedChunks != 0 {
		t.Errorf("status = %s with %d failed chunks, want committed/0", res.Status, res.FailedChunks)
	}
	if res.FailedEmbeddings != 1 {
		t.Errorf("failed embeddings = %d, want 1", res.FailedEmbeddings)
	}

	chunks, err := s.GetChunks(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	for _, ch := range chunks {
		embedded := len(ch.Embedding) > 0
		if ch.Content == chunkAcmeBased && embedded {
			t.Error("failed chunk ended up with an embedding")
		}
		if ch.Content == chunkAliceWorks && !embedded {
			t.Error("healthy chunk lost its embedding")
		}
	}

	stages, err := s.GetPipelineStages(ctx, docID)
	if err != nil {
		t.Fatalf("GetPipelineStages() error = %v", err)
	}
	var embedStage *common.PipelineStage
	for i := range stages {
		if stages[i].Stage == common.StageEmbedding {
			embedStage = &stages[i]
		}
	}
	if embedStage == nil {
		t.Fatal("no embedding stage recorded")
	}
	if embedStage.Status != "completed" || embedStage.Error != "embedding failed for 1 of 2 chunks" {
		t.Errorf("embedding stage = %s/%q, want completed with a failure summary", embedStage.Status, embedStage.Error)
	}

	// The unembedded chunk stays reachable through full text.
	hits, err := s.TopKByText(ctx, "paris", 5, store.Scope{Document: docID})
	if err != nil {
		t.Fatalf("TopKByText() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Snippet != chunkAcmeBased {
		t.Errorf("full-text hits = %v, want the unembedded chunk", hits)
	}
}

func TestProcessDocument_CanceledContextStopsBeforeCommit(t *testing.T) {
	s := memory.NewStore()
	c := newTestClient(t, s, aliceScripts(), &fakeAI{})
	docID := createTestDocument(t, s, aliceContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ProcessDocument(ctx, docID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessDocument() error = %v, want context.Canceled", err)
	}

	// The document is left mid-flight for stale-status recovery to reset.
	status, err := s.GetDocumentStatus(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocumentStatus() error = %v", err)
	}
	if status != common.StatusExtracting {
		t.Errorf("status = %s, want %s", status, common.StatusExtracting)
	}

	chunks, err := s.GetChunks(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d persisted chunks, want none before the embedding stage finished", len(chunks))
	}

	stages, err := s.GetPipelineStages(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetPipelineStages() error = %v", err)
	}
	if len(stages) == 0 || stages[len(stages)-1].Status != "failed" {
		t.Errorf("stages = %v, want the last one marked failed", stages)
	}
}

func TestDeleteDocument_RemovesGraph(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	c := newTestClient(t, s, aliceScripts(), &fakeAI{})
	docID := createTestDocument(t, s, aliceContent)

	if _, err := c.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	if err := c.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	if _, err := s.GetDocument(ctx, docID); !common.IsNotFound(err) {
		t.Errorf("GetDocument() error = %v, want not found", err)
	}
	stats, err := s.GraphStats(ctx, store.Scope{})
	if err != nil {
		t.Fatalf("GraphStats() error = %v", err)
	}
	if stats.Documents != 0 || stats.Entities != 0 || stats.Relationships != 0 || stats.Edges != 0 {
		t.Errorf("stats after delete = %+v, want an empty store", stats)
	}
}

func TestNewExtractionClient_RequiresStoreAndAI(t *testing.T) {
	if _, err := NewExtractionClient(NewExtractionClientParams{AI: &fakeAI{}}); !common.IsValidation(err) {
		t.Errorf("missing store: error = %v, want validation", err)
	}
	if _, err := NewExtractionClient(NewExtractionClientParams{Store: memory.NewStore()}); !common.IsValidation(err) {
		t.Errorf("missing ai: error = %v, want validation", err)
	}
}
