package query

import (
	"context"
	"sort"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/store"
)

func (c *BaseSearchClient) fetchSignal(ctx context.Context, signal, queryText string, k int, scope store.Scope) ([]signalItem, error) {
	switch signal {
	case SignalVector:
		return c.fetchVectorSignal(ctx, queryText, k, scope)
	case SignalFulltext:
		return c.fetchFulltextSignal(ctx, queryText, k, scope)
	default:
		return c.fetchGraphSignal(ctx, queryText, k, scope)
	}
}

// fetchVectorSignal embeds the query text and ranks chunks by cosine
// similarity. An embedding failure is an upstream error; the signal then
// contributes nothing.
func (c *BaseSearchClient) fetchVectorSignal(ctx context.Context, queryText string, k int, scope store.Scope) ([]signalItem, error) {
	embedding, err := c.aiClient.GenerateEmbedding(ctx, []byte(queryText))
	if err != nil {
		return nil, &common.UpstreamError{Service: "embedding", Err: err}
	}

	hits, err := c.storageClient.TopKByVector(ctx, embedding, k, scope)
	if err != nil {
		return nil, err
	}
	return chunkItems(hits), nil
}

func (c *BaseSearchClient) fetchFulltextSignal(ctx context.Context, queryText string, k int, scope store.Scope) ([]signalItem, error) {
	hits, err := c.storageClient.TopKByText(ctx, queryText, k, scope)
	if err != nil {
		return nil, err
	}
	return chunkItems(hits), nil
}

// fetchGraphSignal matches query terms against entity names, expands the
// matched entities' neighborhoods, and ranks the union by graph proximity:
// path cost ascending, importance descending, id ascending. Matched entities
// anchor the list at cost zero.
func (c *BaseSearchClient) fetchGraphSignal(ctx context.Context, queryText string, k int, scope store.Scope) ([]signalItem, error) {
	matches, err := c.storageClient.MatchEntities(ctx, queryText, scope, graphMatchLimit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	snap, err := c.storageClient.LoadAdjacency(ctx, scope)
	if err != nil {
		return nil, err
	}
	importance := c.importanceScores(snap, scope)

	type candidate struct {
		name string
		cost float64
	}
	best := make(map[string]candidate, len(matches))
	seeds := make([]string, 0, len(matches))
	for _, m := range matches {
		seeds = append(seeds, m.ID)
		// Seeds anchor at cost zero, even when reachable from another seed.
		best[m.ID] = candidate{name: m.Name}

		neighbors, err := graphalgo.Neighborhood(snap, m.ID, graphExpandHops)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if cur, ok := best[n.EntityID]; !ok || n.PathCost < cur.cost {
				best[n.EntityID] = candidate{name: n.Name, cost: n.PathCost}
			}
		}
	}
	recordSeedEntities(c.options.Tracer, seeds...)

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := best[ids[i]], best[ids[j]]
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		ia, ib := importance[ids[i]], importance[ids[j]]
		if ia != ib {
			return ia > ib
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}

	items := make([]signalItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, signalItem{id: id, kind: KindEntity, name: best[id].name})
	}
	return items, nil
}

func chunkItems(hits []store.SearchHit) []signalItem {
	items := make([]signalItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, signalItem{id: h.ID, kind: KindChunk, document: h.Document, snippet: h.Snippet})
	}
	return items
}
