package graphalgo

const (
	pageRankDamping   = 0.85
	pageRankEpsilon   = 1e-6
	pageRankMaxRounds = 100
)

// ImportanceScores computes a PageRank-style centrality over the full
// adjacency, keyed by entity id. Edges are followed in both directions, so
// well-connected hub entities accumulate the highest scores.
//
// This is a whole-graph batch computation. Callers cache the result and
// refresh periodically instead of invoking it per query.
func ImportanceScores(s *Snapshot) map[string]float64 {
	n := len(s.nodes)
	scores := make(map[string]float64, n)
	if n == 0 {
		return scores
	}

	degree := make([]int, n)
	for v := range s.adj {
		degree[v] = len(s.adj[v])
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	initial := 1.0 / float64(n)
	for v := range rank {
		rank[v] = initial
	}

	base := (1 - pageRankDamping) / float64(n)
	for round := 0; round < pageRankMaxRounds; round++ {
		dangling := 0.0
		for v := 0; v < n; v++ {
			next[v] = base
			if degree[v] == 0 {
				dangling += rank[v]
			}
		}
		// Dangling mass is spread evenly so the scores keep summing to one.
		danglingShare := pageRankDamping * dangling / float64(n)
		for v := 0; v < n; v++ {
			next[v] += danglingShare
		}
		for v := 0; v < n; v++ {
			if degree[v] == 0 {
				continue
			}
			share := pageRankDamping * rank[v] / float64(degree[v])
			for _, e := range s.adj[v] {
				next[e.to] += share
			}
		}

		delta := 0.0
		for v := 0; v < n; v++ {
			d := next[v] - rank[v]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank, next = next, rank
		if delta < pageRankEpsilon {
			break
		}
	}

	for v, node := range s.nodes {
		scores[node.EntityID] = rank[v]
	}
	return scores
}
