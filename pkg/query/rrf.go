package query

import "sort"

// DefaultRRFK is the reciprocal-rank-fusion smoothing constant. Larger
// values flatten the advantage of top ranks.
const DefaultRRFK = 60

// signalItem is one entry of a single signal's ranked list, before fusion.
type signalItem struct {
	id       string
	kind     string
	name     string
	document string
	snippet  string
}

// rankedList is one signal's contribution to fusion, best item first.
type rankedList struct {
	signal string
	items  []signalItem
}

// fuse merges the given ranked lists by reciprocal rank fusion: an item at
// rank r (starting at 1) in a signal's list scores weight × 1/(k+r) for that
// signal, and scores sum across signals. Items absent from a signal score
// zero for it. The fused order is score descending, ties broken by item id,
// so identical inputs always produce identical output.
//
// Signals missing from weights count with weight 1. Rank attribution follows
// the order lists are passed in.
func fuse(lists []rankedList, weights map[string]float64, k, limit int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}

	fused := make(map[string]*Result)
	order := make([]string, 0)
	for _, list := range lists {
		weight, ok := weights[list.signal]
		if !ok {
			weight = 1
		}
		for i, item := range list.items {
			rank := i + 1
			r, ok := fused[item.id]
			if !ok {
				r = &Result{
					ID:       item.id,
					Kind:     item.kind,
					Name:     item.name,
					Document: item.document,
					Snippet:  item.snippet,
				}
				fused[item.id] = r
				order = append(order, item.id)
			}
			r.Score += weight / float64(k+rank)
			r.Signals = append(r.Signals, SignalRank{Signal: list.signal, Rank: rank})
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		results = append(results, *fused[id])
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
