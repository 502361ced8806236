package query

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/tracemap/cartograph/pkg/ai"
	"github.com/tracemap/cartograph/pkg/cache"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit caps a query's result count when the caller passes none.
const DefaultLimit = 10

// signalTimeout bounds one signal fetch. A slow signal drops out of the
// fusion instead of stalling the query.
const signalTimeout = 10 * time.Second

// importanceTTL bounds how long cached PageRank scores are reused for the
// graph signal's secondary ordering.
const importanceTTL = 5 * time.Minute

const (
	graphMatchLimit = 5
	graphExpandHops = 2
)

type searchOptions struct {
	Weights  map[string]float64
	Limit    int
	RRFK     int
	Cache    *cache.Client
	CacheTTL time.Duration
	Tracer   Tracer
}

// SearchOption is a functional option for configuring search behavior.
type SearchOption func(*searchOptions)

// WithWeights returns a SearchOption that sets per-signal fusion weights.
// Signals without an entry keep weight 1.
func WithWeights(weights map[string]float64) SearchOption {
	return func(o *searchOptions) {
		o.Weights = weights
	}
}

// WithLimit returns a SearchOption that sets the default result count for
// queries that pass no limit.
func WithLimit(limit int) SearchOption {
	return func(o *searchOptions) {
		o.Limit = limit
	}
}

// WithRRFK returns a SearchOption that sets the reciprocal-rank-fusion
// smoothing constant.
func WithRRFK(k int) SearchOption {
	return func(o *searchOptions) {
		o.RRFK = k
	}
}

// WithCache returns a SearchOption that enables write-through result caching
// on the given cache client.
func WithCache(c *cache.Client) SearchOption {
	return func(o *searchOptions) {
		o.Cache = c
	}
}

// WithCacheTTL returns a SearchOption that overrides the cache client's
// default entry lifetime for query responses.
func WithCacheTTL(ttl time.Duration) SearchOption {
	return func(o *searchOptions) {
		o.CacheTTL = ttl
	}
}

// WithTracer returns a SearchOption that records signal fetches, seed
// entities, and cache lookups to the given tracer.
func WithTracer(t Tracer) SearchOption {
	return func(o *searchOptions) {
		o.Tracer = t
	}
}

// BaseSearchClient answers context queries by fusing vector, full-text, and
// graph-proximity retrieval over a GraphStorage. It combines an AI client
// for query embeddings with the storage client's search adapters; the graph
// signal additionally runs neighborhood expansion over the adjacency
// snapshot.
type BaseSearchClient struct {
	aiClient      ai.Client
	storageClient store.GraphStorage
	options       searchOptions

	mu         sync.Mutex
	importance map[string]importanceEntry
}

type importanceEntry struct {
	scores   map[string]float64
	loadedAt time.Time
}

// NewSearchClient creates a new SearchClient by combining an AI client and a
// storage client. The AI client embeds query text for the vector signal,
// while the storage client provides the per-signal search adapters and the
// adjacency snapshot.
//
// Example:
//
//	client := query.NewSearchClient(aiClient, storageClient, query.WithCache(resultCache))
func NewSearchClient(aiC ai.Client, s store.GraphStorage, opts ...SearchOption) *BaseSearchClient {
	c := BaseSearchClient{
		aiClient:      aiC,
		storageClient: s,
		importance:    make(map[string]importanceEntry),
	}

	for _, o := range opts {
		o(&c.options)
	}
	if c.options.Limit <= 0 {
		c.options.Limit = DefaultLimit
	}
	if c.options.RRFK <= 0 {
		c.options.RRFK = DefaultRRFK
	}

	return &c
}

// Query produces the fused, ranked answer context for queryText. Mode picks
// the contributing signals; limit caps the result count (the configured
// default when non-positive). A signal whose fetch fails contributes nothing
// and the response's Signals list shows what remained; zero matches yield an
// empty result list and no error.
func (c *BaseSearchClient) Query(ctx context.Context, queryText string, scope store.Scope, mode Mode, limit int) (*SearchResponse, error) {
	if queryText == "" {
		return nil, &common.ValidationError{Field: "queryText", Reason: "must not be empty"}
	}
	mode, ok := ParseMode(string(mode))
	if !ok {
		return nil, &common.ValidationError{Field: "mode", Reason: "must be one of vector, fulltext, graph, hybrid"}
	}
	if limit <= 0 {
		limit = c.options.Limit
	}

	// Limit is part of the key: a truncated response must never be served
	// for a larger request.
	key := cache.Key(queryText, scope.Document, string(mode), strconv.Itoa(limit))
	if c.options.Cache != nil {
		payload, ok := c.options.Cache.Get(key)
		recordCacheLookup(c.options.Tracer, ok)
		if ok {
			var cached SearchResponse
			if err := json.Unmarshal(payload, &cached); err == nil {
				cached.Cached = true
				return &cached, nil
			}
			logger.Warn("[Search] Dropping undecodable cached response", "key", key)
			c.options.Cache.Delete(key)
		}
	}

	signals := modeSignals(mode)
	lists := make([]rankedList, len(signals))
	errs := make([]error, len(signals))

	eg, gCtx := errgroup.WithContext(ctx)
	for i, signal := range signals {
		i, signal := i, signal
		eg.Go(func() error {
			started := time.Now()
			fetchCtx, cancel := context.WithTimeout(gCtx, signalTimeout)
			defer cancel()

			items, err := c.fetchSignal(fetchCtx, signal, queryText, limit, scope)
			lists[i] = rankedList{signal: signal, items: items}
			errs[i] = err
			recordSignalFetch(c.options.Tracer, signal, len(items), time.Since(started).Milliseconds(), err)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contributing := make([]string, 0, len(signals))
	inputs := make([]rankedList, 0, len(signals))
	for i, list := range lists {
		if errs[i] != nil {
			logger.Warn("[Search] Signal fetch failed", "signal", list.signal, "error", errs[i])
			continue
		}
		contributing = append(contributing, list.signal)
		inputs = append(inputs, list)
	}

	res := &SearchResponse{
		Query:   queryText,
		Mode:    mode,
		Results: fuse(inputs, c.options.Weights, c.options.RRFK, limit),
		Signals: contributing,
	}

	if c.options.Cache != nil {
		if payload, err := json.Marshal(res); err == nil {
			c.options.Cache.Put(key, payload, c.options.CacheTTL)
		}
	}
	return res, nil
}

// Path returns the cheapest relationship path between two entities over the
// whole graph, empty when none exists.
func (c *BaseSearchClient) Path(ctx context.Context, entityA, entityB string) ([]graphalgo.PathStep, error) {
	if entityA == "" || entityB == "" {
		return nil, &common.ValidationError{Field: "entity", Reason: "both path endpoints are required"}
	}

	snap, err := c.storageClient.LoadAdjacency(ctx, store.Scope{})
	if err != nil {
		return nil, err
	}
	return graphalgo.ShortestPath(snap, entityA, entityB), nil
}

// Neighbors returns the entity's bounded-hop neighborhood ordered by path
// cost. The entity must exist; an entity without relationships has an empty
// neighborhood.
func (c *BaseSearchClient) Neighbors(ctx context.Context, entityID string, maxHops int) ([]graphalgo.Neighbor, error) {
	if _, err := c.storageClient.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}

	snap, err := c.storageClient.LoadAdjacency(ctx, store.Scope{})
	if err != nil {
		return nil, err
	}
	return graphalgo.Neighborhood(snap, entityID, maxHops)
}

func modeSignals(mode Mode) []string {
	switch mode {
	case ModeVector:
		return []string{SignalVector}
	case ModeFulltext:
		return []string{SignalFulltext}
	case ModeGraph:
		return []string{SignalGraph}
	default:
		return []string{SignalVector, SignalFulltext, SignalGraph}
	}
}

// importanceScores returns PageRank scores for the scope, recomputing them
// at most once per importanceTTL. Scores only break ordering ties, so
// bounded staleness is fine.
func (c *BaseSearchClient) importanceScores(snap *graphalgo.Snapshot, scope store.Scope) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.importance[scope.Document]
	if ok && time.Since(entry.loadedAt) < importanceTTL {
		return entry.scores
	}

	scores := graphalgo.ImportanceScores(snap)
	c.importance[scope.Document] = importanceEntry{scores: scores, loadedAt: time.Now()}
	return scores
}
