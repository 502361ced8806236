package memory

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

func saveTestChunks(t *testing.T, s *Store, docID string, chunks []common.Chunk) {
	t.Helper()
	if err := s.SaveChunks(context.Background(), docID, chunks); err != nil {
		t.Fatalf("SaveChunks() error = %v", err)
	}
}

func TestTopKByVector_RanksByCosineSimilarity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID := newTestDocument(t, s)
	saveTestChunks(t, s, docID, []common.Chunk{
		{ID: "chunk-a", Index: 0, Content: "aligned", Embedding: []float32{1, 0}},
		{ID: "chunk-b", Index: 1, Content: "orthogonal", Embedding: []float32{0, 1}},
		{ID: "chunk-c", Index: 2, Content: "diagonal", Embedding: []float32{1, 1}},
		{ID: "chunk-d", Index: 3, Content: "embedding failed for this one"},
	})

	hits, err := s.TopKByVector(ctx, []float32{1, 0}, 2, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByVector() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "chunk-a" || hits[1].ID != "chunk-c" {
		t.Errorf("ranking = [%s, %s], want [chunk-a, chunk-c]", hits[0].ID, hits[1].ID)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("top score = %v, want 1.0", hits[0].Score)
	}
	if math.Abs(hits[1].Score-1/math.Sqrt2) > 1e-6 {
		t.Errorf("second score = %v, want 1/sqrt(2)", hits[1].Score)
	}
	if hits[0].Snippet != "aligned" {
		t.Errorf("snippet = %q, want the chunk content", hits[0].Snippet)
	}

	// Chunks without an embedding never surface, regardless of k.
	hits, err = s.TopKByVector(ctx, []float32{1, 0}, 10, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByVector(k=10) error = %v", err)
	}
	for _, h := range hits {
		if h.ID == "chunk-d" {
			t.Error("chunk without embedding surfaced in vector search")
		}
	}

	if _, err := s.TopKByVector(ctx, []float32{1, 0}, 0, store.Scope{}); !common.IsValidation(err) {
		t.Errorf("TopKByVector(k=0) error = %v, want validation error", err)
	}
	if _, err := s.TopKByVector(ctx, nil, 5, store.Scope{}); !common.IsValidation(err) {
		t.Errorf("TopKByVector(empty vector) error = %v, want validation error", err)
	}
	if _, err := s.TopKByVector(ctx, []float32{1, 0}, 5, store.Scope{Document: "missing"}); !common.IsNotFound(err) {
		t.Errorf("TopKByVector(missing scope) error = %v, want not found", err)
	}
}

func TestTopKByVector_HonorsDocumentScope(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc1 := newTestDocument(t, s)
	doc2 := newTestDocument(t, s)
	saveTestChunks(t, s, doc1, []common.Chunk{{ID: "chunk-1", Index: 0, Content: "one", Embedding: []float32{1, 0}}})
	saveTestChunks(t, s, doc2, []common.Chunk{{ID: "chunk-2", Index: 0, Content: "two", Embedding: []float32{1, 0}}})

	hits, err := s.TopKByVector(ctx, []float32{1, 0}, 10, store.Scope{Document: doc1})
	if err != nil {
		t.Fatalf("TopKByVector() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "chunk-1" {
		t.Errorf("scoped hits = %+v, want only the chunk of the scoped document", hits)
	}
}

func TestTopKByText_RequiresEveryTerm(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID := newTestDocument(t, s)
	saveTestChunks(t, s, docID, []common.Chunk{
		{ID: "chunk-a", Index: 0, Content: "Alice works at Acme."},
		{ID: "chunk-b", Index: 1, Content: "Alice plays chess in the park."},
		{ID: "chunk-c", Index: 2, Content: "Acme ships anvils to Acme warehouses."},
	})

	hits, err := s.TopKByText(ctx, "alice acme", 10, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByText() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "chunk-a" {
		t.Fatalf("hits = %+v, want only the chunk containing every term", hits)
	}

	// Term frequency ranks the denser chunk first.
	hits, err = s.TopKByText(ctx, "Acme", 1, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByText(acme) error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "chunk-c" {
		t.Fatalf("hits = %+v, want the chunk mentioning the term twice", hits)
	}

	hits, err = s.TopKByText(ctx, "zeppelin", 10, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByText(zeppelin) error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want none for an absent term", hits)
	}

	hits, err = s.TopKByText(ctx, "   ", 10, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByText(blank) error = %v", err)
	}
	if hits != nil {
		t.Errorf("hits = %+v, want nil for a blank query", hits)
	}
}

func TestTopKByText_TruncatesSnippet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID := newTestDocument(t, s)
	long := "needle " + strings.Repeat("x", 400)
	saveTestChunks(t, s, docID, []common.Chunk{{ID: "chunk-long", Index: 0, Content: long}})

	hits, err := s.TopKByText(ctx, "needle", 1, store.Scope{})
	if err != nil {
		t.Fatalf("TopKByText() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if got := len([]rune(hits[0].Snippet)); got != snippetRunes {
		t.Errorf("snippet length = %d runes, want %d", got, snippetRunes)
	}
}

func TestMatchEntities_TrigramSimilarity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID := newTestDocument(t, s)
	acme := upsertTestEntity(t, s, docID, "Acme Corporation", common.EntOrganization, 0.9)
	upsertTestEntity(t, s, docID, "Ada Lovelace", common.EntPerson, 0.9)
	upsertTestEntity(t, s, docID, "Paris", common.EntCity, 0.9)

	matches, err := s.MatchEntities(ctx, "acme corporation", store.Scope{}, 10)
	if err != nil {
		t.Fatalf("MatchEntities() error = %v", err)
	}
	if len(matches) == 0 || matches[0].ID != acme {
		t.Fatalf("matches = %+v, want the exact name first", matches)
	}
	if math.Abs(matches[0].Similarity-1.0) > 1e-9 {
		t.Errorf("exact match similarity = %v, want 1.0", matches[0].Similarity)
	}

	// A truncated mention still clears the pg_trgm-style threshold.
	matches, err = s.MatchEntities(ctx, "acme corp", store.Scope{}, 10)
	if err != nil {
		t.Fatalf("MatchEntities(acme corp) error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != acme {
		t.Fatalf("matches = %+v, want only the organization", matches)
	}
	if matches[0].Similarity < trigramThreshold {
		t.Errorf("similarity = %v, want at least %v", matches[0].Similarity, trigramThreshold)
	}

	matches, err = s.MatchEntities(ctx, "zzzz", store.Scope{}, 10)
	if err != nil {
		t.Fatalf("MatchEntities(zzzz) error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %+v, want none below the threshold", matches)
	}

	if _, err := s.MatchEntities(ctx, "acme", store.Scope{}, 0); !common.IsValidation(err) {
		t.Errorf("MatchEntities(limit=0) error = %v, want validation error", err)
	}
}

func TestMatchEntities_HonorsDocumentScope(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc1 := newTestDocument(t, s)
	doc2 := newTestDocument(t, s)
	first := upsertTestEntity(t, s, doc1, "Acme Corporation", common.EntOrganization, 0.9)
	second := upsertTestEntity(t, s, doc2, "Acme Corporation", common.EntOrganization, 0.9)

	matches, err := s.MatchEntities(ctx, "acme corporation", store.Scope{Document: doc1}, 10)
	if err != nil {
		t.Fatalf("MatchEntities() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != first {
		t.Fatalf("scoped matches = %+v, want only the entity of document one", matches)
	}

	matches, err = s.MatchEntities(ctx, "acme corporation", store.Scope{}, 10)
	if err != nil {
		t.Fatalf("MatchEntities(global) error = %v", err)
	}
	got := map[string]bool{}
	for _, m := range matches {
		got[m.ID] = true
	}
	if len(matches) != 2 || !got[first] || !got[second] {
		t.Fatalf("global matches = %+v, want both copies", matches)
	}

	if _, err := s.MatchEntities(ctx, "acme", store.Scope{Document: "missing"}, 10); !common.IsNotFound(err) {
		t.Errorf("MatchEntities(missing scope) error = %v, want not found", err)
	}
}
