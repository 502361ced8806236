package graphalgo

import (
	"container/heap"
	"math"
	"sort"

	"github.com/tracemap/cartograph/pkg/common"
)

type pqItem struct {
	node int32
	hops int
	cost float64
}

type priorityQueue []pqItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	// Stable expansion order keeps results reproducible across runs.
	return q[i].node < q[j].node
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(pqItem)) }

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ShortestPath runs an undirected weighted shortest-path search between two
// entities. The result starts at the source entity and ends at the target,
// each step carrying the relationship traversed and the cumulative cost.
//
// An empty slice is returned when either endpoint has no node mapping or no
// path exists. No path is a normal outcome, not an error.
func ShortestPath(s *Snapshot, sourceEntityID, targetEntityID string) []PathStep {
	src, ok := s.entityIndex(sourceEntityID)
	if !ok {
		return []PathStep{}
	}
	dst, ok := s.entityIndex(targetEntityID)
	if !ok {
		return []PathStep{}
	}
	if src == dst {
		n := s.nodes[src]
		return []PathStep{{EntityID: n.EntityID, Name: n.Name}}
	}

	n := len(s.nodes)
	dist := make([]float64, n)
	prev := make([]int32, n)
	prevRel := make([]string, n)
	done := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &priorityQueue{{node: src, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		v := item.node
		if done[v] {
			continue
		}
		done[v] = true
		if v == dst {
			break
		}
		for _, e := range s.adj[v] {
			next := item.cost + e.cost
			if next < dist[e.to] {
				dist[e.to] = next
				prev[e.to] = v
				prevRel[e.to] = e.rel
				heap.Push(pq, pqItem{node: e.to, cost: next})
			}
		}
	}

	if math.IsInf(dist[dst], 1) {
		return []PathStep{}
	}

	var steps []PathStep
	for v := dst; v != -1; v = prev[v] {
		node := s.nodes[v]
		steps = append(steps, PathStep{
			EntityID:       node.EntityID,
			Name:           node.Name,
			RelationshipID: prevRel[v],
			CumulativeCost: dist[v],
		})
		if v == src {
			break
		}
	}
	// Reverse into source-to-target order; the source step carries no
	// relationship.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	steps[0].RelationshipID = ""
	return steps
}

// Neighborhood collects every entity reachable from the start entity within
// maxHops relationship traversals. Each entity appears once at its minimum
// path cost (ties resolved toward fewer hops), ordered by increasing path
// cost, then name, then id.
//
// maxHops must be at least 1. An unmapped start entity yields an empty
// result.
func Neighborhood(s *Snapshot, entityID string, maxHops int) ([]Neighbor, error) {
	if maxHops < 1 {
		return nil, &common.ValidationError{Field: "maxHops", Reason: "must be at least 1"}
	}
	start, ok := s.entityIndex(entityID)
	if !ok {
		return []Neighbor{}, nil
	}

	n := len(s.nodes)
	// dist[v][h] is the cheapest cost reaching v over exactly up-to-h hops.
	// maxHops is small in practice, so the state space stays tight.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, maxHops+1)
		for h := range dist[i] {
			dist[i][h] = math.Inf(1)
		}
	}
	dist[start][0] = 0

	pq := &priorityQueue{{node: start, hops: 0, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if item.cost > dist[item.node][item.hops] {
			continue
		}
		if item.hops == maxHops {
			continue
		}
		for _, e := range s.adj[item.node] {
			next := item.cost + e.cost
			nh := item.hops + 1
			if next < dist[e.to][nh] {
				dist[e.to][nh] = next
				heap.Push(pq, pqItem{node: e.to, hops: nh, cost: next})
			}
		}
	}

	neighbors := make([]Neighbor, 0)
	for v := 0; v < n; v++ {
		if int32(v) == start {
			continue
		}
		best := math.Inf(1)
		bestHops := 0
		for h := 1; h <= maxHops; h++ {
			if dist[v][h] < best {
				best = dist[v][h]
				bestHops = h
			}
		}
		if math.IsInf(best, 1) {
			continue
		}
		node := s.nodes[v]
		neighbors = append(neighbors, Neighbor{
			EntityID: node.EntityID,
			Name:     node.Name,
			Hops:     bestHops,
			PathCost: best,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].PathCost != neighbors[j].PathCost {
			return neighbors[i].PathCost < neighbors[j].PathCost
		}
		if neighbors[i].Name != neighbors[j].Name {
			return neighbors[i].Name < neighbors[j].Name
		}
		return neighbors[i].EntityID < neighbors[j].EntityID
	})
	return neighbors, nil
}
