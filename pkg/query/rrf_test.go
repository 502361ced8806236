package query

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func testLists() []rankedList {
	return []rankedList{
		{signal: SignalVector, items: []signalItem{
			{id: "chunk-a", kind: KindChunk, document: "doc-1", snippet: "alpha"},
			{id: "chunk-b", kind: KindChunk, document: "doc-1", snippet: "beta"},
			{id: "chunk-c", kind: KindChunk, document: "doc-2", snippet: "gamma"},
		}},
		{signal: SignalFulltext, items: []signalItem{
			{id: "chunk-b", kind: KindChunk, document: "doc-1", snippet: "beta"},
			{id: "chunk-a", kind: KindChunk, document: "doc-1", snippet: "alpha"},
		}},
	}
}

func TestFuse_ScoresAndAttributesEveryItem(t *testing.T) {
	results := fuse(testLists(), nil, DefaultRRFK, 10)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	// chunk-a and chunk-b mirror each other's ranks, so their scores tie and
	// the id breaks the tie.
	if results[0].ID != "chunk-a" || results[1].ID != "chunk-b" || results[2].ID != "chunk-c" {
		t.Fatalf("order = [%s %s %s], want [chunk-a chunk-b chunk-c]", results[0].ID, results[1].ID, results[2].ID)
	}
	if results[0].Score != results[1].Score {
		t.Errorf("mirrored ranks scored %v vs %v, want equal", results[0].Score, results[1].Score)
	}

	wantScore := 1.0/61 + 1.0/62
	if math.Abs(results[0].Score-wantScore) > 1e-12 {
		t.Errorf("score = %v, want %v", results[0].Score, wantScore)
	}
	if math.Abs(results[2].Score-1.0/63) > 1e-12 {
		t.Errorf("single-signal score = %v, want %v", results[2].Score, 1.0/63)
	}

	wantSignals := []SignalRank{{Signal: SignalVector, Rank: 1}, {Signal: SignalFulltext, Rank: 2}}
	if !reflect.DeepEqual(results[0].Signals, wantSignals) {
		t.Errorf("chunk-a attribution = %v, want %v", results[0].Signals, wantSignals)
	}
	wantSignals = []SignalRank{{Signal: SignalVector, Rank: 3}}
	if !reflect.DeepEqual(results[2].Signals, wantSignals) {
		t.Errorf("chunk-c attribution = %v, want %v", results[2].Signals, wantSignals)
	}

	if results[0].Snippet != "alpha" || results[0].Document != "doc-1" || results[0].Kind != KindChunk {
		t.Errorf("item metadata not carried through fusion: %+v", results[0])
	}
}

func TestFuse_WeightsBiasTheOrder(t *testing.T) {
	results := fuse(testLists(), map[string]float64{SignalFulltext: 2}, DefaultRRFK, 10)
	if results[0].ID != "chunk-b" {
		t.Fatalf("top result = %s, want chunk-b once fulltext counts double", results[0].ID)
	}
}

func TestFuse_DeterministicAcrossRuns(t *testing.T) {
	first := fuse(testLists(), map[string]float64{SignalVector: 0.7}, 40, 10)
	second := fuse(testLists(), map[string]float64{SignalVector: 0.7}, 40, 10)

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("identical inputs fused differently:\n%s\n%s", a, b)
	}
}

func TestFuse_LimitAndEmptyInput(t *testing.T) {
	results := fuse(testLists(), nil, DefaultRRFK, 2)
	if len(results) != 2 {
		t.Errorf("got %d results with limit 2, want 2", len(results))
	}

	results = fuse(nil, nil, DefaultRRFK, 5)
	if len(results) != 0 {
		t.Errorf("got %d results from no lists, want 0", len(results))
	}

	results = fuse([]rankedList{{signal: SignalVector}}, nil, DefaultRRFK, 5)
	if len(results) != 0 {
		t.Errorf("got %d results from an empty list, want 0", len(results))
	}
}
