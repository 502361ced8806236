package query

import (
	"context"

	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/store"
)

// Mode selects which retrieval signals feed a query. Single-signal modes
// return that signal's ranking directly; hybrid fuses all three.
type Mode string

const (
	ModeVector   Mode = "vector"
	ModeFulltext Mode = "fulltext"
	ModeGraph    Mode = "graph"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode normalizes s into a search mode, reporting whether it matched.
// An empty string selects hybrid.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "":
		return ModeHybrid, true
	case ModeVector, ModeFulltext, ModeGraph, ModeHybrid:
		return Mode(s), true
	}
	return "", false
}

// Signal names used for weighting and attribution.
const (
	SignalVector   = "vector"
	SignalFulltext = "fulltext"
	SignalGraph    = "graph"
)

// Result item kinds. Vector and full-text signals rank chunks, the graph
// signal ranks entities; a fused response can carry both.
const (
	KindChunk  = "chunk"
	KindEntity = "entity"
)

// SignalRank attributes one signal's contribution to a result item.
type SignalRank struct {
	Signal string `json:"signal"`
	Rank   int    `json:"rank"`
}

// Result is one fused context item. Score is the reciprocal-rank-fusion
// score; Signals lists every signal that ranked the item and at which rank.
type Result struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Name     string       `json:"name,omitempty"`
	Document string       `json:"document,omitempty"`
	Snippet  string       `json:"snippet,omitempty"`
	Score    float64      `json:"score"`
	Signals  []SignalRank `json:"signals"`
}

// SearchResponse is the ranked answer context for one query. Signals lists
// the signals whose fetch succeeded; a signal that failed upstream is simply
// absent and the ranking is best-effort over the rest. Cached marks responses
// served from the result cache.
type SearchResponse struct {
	Query   string   `json:"query"`
	Mode    Mode     `json:"mode"`
	Results []Result `json:"results"`
	Signals []string `json:"signals"`
	Cached  bool     `json:"cached"`
}

// SearchClient defines the read-side interface over the knowledge graph: the
// fused context ranking plus the two direct traversal queries the API layer
// exposes.
type SearchClient interface {
	Query(ctx context.Context, queryText string, scope store.Scope, mode Mode, limit int) (*SearchResponse, error)
	Path(ctx context.Context, entityA, entityB string) ([]graphalgo.PathStep, error)
	Neighbors(ctx context.Context, entityID string, maxHops int) ([]graphalgo.Neighbor, error)
}
