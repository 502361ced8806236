package query

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/tracemap/cartograph/pkg/ai"
	"github.com/tracemap/cartograph/pkg/cache"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
	"github.com/tracemap/cartograph/pkg/store/memory"
)

// stubAI answers embedding requests with a fixed vector, or a fixed error.
type stubAI struct {
	vector []float32
	err    error
}

func (s *stubAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not scripted")
}

func (s *stubAI) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return errors.New("not scripted")
}

func (s *stubAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *stubAI) ResetMetrics() {}

func (s *stubAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// corpus is one document with three chunks and a three-entity graph:
// Alice -[WORKS_FOR 0.9]-> Acme Corporation -[LOCATED_IN 0.8]-> Paris.
type corpus struct {
	store    *memory.Store
	docID    string
	entities map[string]string // name -> id
}

func buildCorpus(t *testing.T) *corpus {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()

	doc, err := s.CreateDocument(ctx, "notes.md", "corpus")
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	err = s.SaveChunks(ctx, doc.ID, []common.Chunk{
		{ID: "chunk-a", Index: 0, Content: "Alice works at Acme Corporation.", Embedding: []float32{1, 0}},
		{ID: "chunk-b", Index: 1, Content: "Paris hosts the satellite office.", Embedding: []float32{0, 1}},
		{ID: "chunk-c", Index: 2, Content: "Acme Corporation handbook. Acme Corporation values."},
	})
	if err != nil {
		t.Fatalf("SaveChunks() error = %v", err)
	}

	entities := make(map[string]string)
	for name, kind := range map[string]common.EntityType{
		"Alice":            common.EntPerson,
		"Acme Corporation": common.EntOrganization,
		"Paris":            common.EntCity,
	} {
		id, err := s.UpsertEntity(ctx, common.EntityCandidate{
			Name: name, Type: kind, Confidence: 0.9, Document: doc.ID,
		})
		if err != nil {
			t.Fatalf("UpsertEntity(%s) error = %v", name, err)
		}
		entities[name] = id
	}

	for _, rel := range []common.RelationshipCandidate{
		{Document: doc.ID, SourceID: entities["Alice"], TargetID: entities["Acme Corporation"], Type: common.RelWorksFor, Confidence: 0.9, Weight: 1},
		{Document: doc.ID, SourceID: entities["Acme Corporation"], TargetID: entities["Paris"], Type: common.RelLocatedIn, Confidence: 0.8, Weight: 1},
	} {
		if _, err := s.UpsertRelationship(ctx, rel); err != nil {
			t.Fatalf("UpsertRelationship() error = %v", err)
		}
	}

	return &corpus{store: s, docID: doc.ID, entities: entities}
}

func TestQuery_VectorModeRanksBySimilarity(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	res, err := client.Query(context.Background(), "who works at acme", store.Scope{Document: c.docID}, ModeVector, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if !reflect.DeepEqual(res.Signals, []string{SignalVector}) {
		t.Errorf("signals = %v, want [vector]", res.Signals)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want the 2 embedded chunks", len(res.Results))
	}
	if res.Results[0].ID != "chunk-a" || res.Results[1].ID != "chunk-b" {
		t.Errorf("order = [%s %s], want [chunk-a chunk-b]", res.Results[0].ID, res.Results[1].ID)
	}
	if res.Results[0].Kind != KindChunk || res.Results[0].Snippet == "" {
		t.Errorf("result = %+v, want a chunk with its snippet", res.Results[0])
	}
	wantSignals := []SignalRank{{Signal: SignalVector, Rank: 1}}
	if !reflect.DeepEqual(res.Results[0].Signals, wantSignals) {
		t.Errorf("attribution = %v, want %v", res.Results[0].Signals, wantSignals)
	}
	if res.Cached {
		t.Error("response marked cached without a cache configured")
	}
}

func TestQuery_FulltextModeRequiresEveryTerm(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	res, err := client.Query(context.Background(), "acme corporation", store.Scope{Document: c.docID}, ModeFulltext, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	// chunk-c mentions the company twice, chunk-a once; chunk-b not at all.
	// The unembedded chunk-c is reachable through this signal.
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	if res.Results[0].ID != "chunk-c" || res.Results[1].ID != "chunk-a" {
		t.Errorf("order = [%s %s], want [chunk-c chunk-a]", res.Results[0].ID, res.Results[1].ID)
	}
}

func TestQuery_GraphModeExpandsFromMatchedEntities(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	res, err := client.Query(context.Background(), "Acme Corporation", store.Scope{Document: c.docID}, ModeGraph, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	// The matched entity anchors at cost 0; Alice (0.1) precedes Paris (0.2).
	wantIDs := []string{c.entities["Acme Corporation"], c.entities["Alice"], c.entities["Paris"]}
	var gotIDs []string
	for _, r := range res.Results {
		gotIDs = append(gotIDs, r.ID)
		if r.Kind != KindEntity {
			t.Errorf("result %s kind = %s, want entity", r.ID, r.Kind)
		}
	}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Errorf("order = %v, want %v", gotIDs, wantIDs)
	}
	if res.Results[0].Name != "Acme Corporation" {
		t.Errorf("top result name = %q, want the matched entity's name", res.Results[0].Name)
	}
}

func TestQuery_HybridFusesAllSignals(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	res, err := client.Query(context.Background(), "Acme Corporation", store.Scope{Document: c.docID}, ModeHybrid, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if !reflect.DeepEqual(res.Signals, []string{SignalVector, SignalFulltext, SignalGraph}) {
		t.Errorf("signals = %v, want all three", res.Signals)
	}
	// 3 entities + chunks a, b, c.
	if len(res.Results) != 6 {
		t.Fatalf("got %d fused results, want 6", len(res.Results))
	}

	// chunk-a ranks in two signals (vector 1, fulltext 2) and must beat
	// every single-signal rank-1 item.
	if res.Results[0].ID != "chunk-a" {
		t.Fatalf("top fused result = %s, want chunk-a", res.Results[0].ID)
	}
	wantSignals := []SignalRank{{Signal: SignalVector, Rank: 1}, {Signal: SignalFulltext, Rank: 2}}
	if !reflect.DeepEqual(res.Results[0].Signals, wantSignals) {
		t.Errorf("chunk-a attribution = %v, want %v", res.Results[0].Signals, wantSignals)
	}
	wantScore := 1.0/61 + 1.0/62
	if math.Abs(res.Results[0].Score-wantScore) > 1e-12 {
		t.Errorf("chunk-a score = %v, want %v", res.Results[0].Score, wantScore)
	}
}

func TestQuery_FailedSignalDegradesGracefully(t *testing.T) {
	c := buildCorpus(t)
	trace := NewQueryTrace()
	client := NewSearchClient(&stubAI{err: errors.New("embedding backend down")}, c.store, WithTracer(trace))

	res, err := client.Query(context.Background(), "Acme Corporation", store.Scope{Document: c.docID}, ModeHybrid, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if !reflect.DeepEqual(res.Signals, []string{SignalFulltext, SignalGraph}) {
		t.Errorf("signals = %v, want the vector signal absent", res.Signals)
	}
	// Fulltext chunks and graph entities still rank.
	if len(res.Results) != 5 {
		t.Errorf("got %d results, want 5 from the remaining signals", len(res.Results))
	}
	for _, r := range res.Results {
		for _, sr := range r.Signals {
			if sr.Signal == SignalVector {
				t.Errorf("result %s attributes the failed vector signal", r.ID)
			}
		}
	}

	snap := trace.Snapshot()
	if !reflect.DeepEqual(snap.FailedSignals, []string{SignalVector}) {
		t.Errorf("trace failed signals = %v, want [vector]", snap.FailedSignals)
	}
	if len(snap.FetchedSignals) != 3 {
		t.Errorf("trace fetched signals = %v, want all three attempts", snap.FetchedSignals)
	}
	if len(snap.SeedEntityIDs) == 0 {
		t.Error("trace recorded no seed entities for the graph signal")
	}
}

func TestQuery_CacheWriteThrough(t *testing.T) {
	c := buildCorpus(t)
	resultCache, err := cache.NewClient(cache.NewClientParams{})
	if err != nil {
		t.Fatalf("cache.NewClient() error = %v", err)
	}
	defer resultCache.Close()

	trace := NewQueryTrace()
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store, WithCache(resultCache), WithTracer(trace))

	first, err := client.Query(context.Background(), "Acme   Corporation", store.Scope{Document: c.docID}, ModeHybrid, 10)
	if err != nil {
		t.Fatalf("first Query() error = %v", err)
	}
	if first.Cached {
		t.Error("first response marked cached")
	}

	// Different spacing, same normalized key.
	second, err := client.Query(context.Background(), "acme corporation", store.Scope{Document: c.docID}, ModeHybrid, 10)
	if err != nil {
		t.Fatalf("second Query() error = %v", err)
	}
	if !second.Cached {
		t.Fatal("second response not served from cache")
	}
	if !reflect.DeepEqual(first.Results, second.Results) {
		t.Errorf("cached results differ:\n%v\n%v", first.Results, second.Results)
	}

	// A different limit is a different key, so truncation never leaks
	// between requests.
	short, err := client.Query(context.Background(), "acme corporation", store.Scope{Document: c.docID}, ModeHybrid, 2)
	if err != nil {
		t.Fatalf("limited Query() error = %v", err)
	}
	if short.Cached {
		t.Error("limited request was served the full cached response")
	}
	if len(short.Results) != 2 {
		t.Errorf("got %d results with limit 2, want 2", len(short.Results))
	}

	snap := trace.Snapshot()
	if snap.CacheHits != 1 || snap.CacheMisses != 2 {
		t.Errorf("trace cache counts = %d hits/%d misses, want 1/2", snap.CacheHits, snap.CacheMisses)
	}
}

func TestQuery_RejectsBadInput(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	if _, err := client.Query(context.Background(), "", store.Scope{}, ModeHybrid, 10); !common.IsValidation(err) {
		t.Errorf("empty query: error = %v, want validation", err)
	}
	if _, err := client.Query(context.Background(), "acme", store.Scope{}, Mode("fuzzy"), 10); !common.IsValidation(err) {
		t.Errorf("unknown mode: error = %v, want validation", err)
	}
	if _, err := client.Query(context.Background(), "acme", store.Scope{Document: "missing"}, ModeFulltext, 10); err != nil {
		// A missing scope fails the signal, not the query.
		t.Errorf("missing scope: error = %v, want a degraded empty response", err)
	}
}

func TestQuery_EmptyModeDefaultsToHybrid(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	res, err := client.Query(context.Background(), "Acme Corporation", store.Scope{Document: c.docID}, "", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Mode != ModeHybrid {
		t.Errorf("mode = %s, want hybrid", res.Mode)
	}
	if len(res.Signals) != 3 {
		t.Errorf("signals = %v, want all three", res.Signals)
	}
}

func TestPath_FindsRouteAcrossTheGraph(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	steps, err := client.Path(context.Background(), c.entities["Alice"], c.entities["Paris"])
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want Alice -> Acme -> Paris", len(steps))
	}
	if steps[0].EntityID != c.entities["Alice"] || steps[2].EntityID != c.entities["Paris"] {
		t.Errorf("endpoints = %s..%s, want alice..paris", steps[0].EntityID, steps[2].EntityID)
	}

	// Unknown endpoints mean no path, not an error.
	steps, err = client.Path(context.Background(), c.entities["Alice"], "ghost")
	if err != nil {
		t.Fatalf("Path() to unknown entity: error = %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("got %d steps to an unknown entity, want 0", len(steps))
	}

	if _, err := client.Path(context.Background(), "", c.entities["Paris"]); !common.IsValidation(err) {
		t.Errorf("blank endpoint: error = %v, want validation", err)
	}
}

func TestNeighbors_RanksByPathCost(t *testing.T) {
	c := buildCorpus(t)
	client := NewSearchClient(&stubAI{vector: []float32{1, 0}}, c.store)

	neighbors, err := client.Neighbors(context.Background(), c.entities["Acme Corporation"], 1)
	if err != nil {
		t.Fatalf("Neighbors() error = %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("got %d neighbors, want 2", len(neighbors))
	}
	if neighbors[0].EntityID != c.entities["Alice"] || neighbors[1].EntityID != c.entities["Paris"] {
		t.Errorf("order = [%s %s], want the cheaper edge first", neighbors[0].EntityID, neighbors[1].EntityID)
	}

	if _, err := client.Neighbors(context.Background(), "ghost", 2); !common.IsNotFound(err) {
		t.Errorf("unknown entity: error = %v, want not found", err)
	}
	if _, err := client.Neighbors(context.Background(), c.entities["Alice"], 0); !common.IsValidation(err) {
		t.Errorf("zero hops: error = %v, want validation", err)
	}
}
