package graphalgo

import (
	"github.com/tracemap/cartograph/pkg/common"
)

// Snapshot is a compact integer-indexed view of the adjacency structure,
// loaded from the store and handed to the traversal functions. It is
// immutable after building and safe for concurrent readers.
//
// Nodes are registered with their store-assigned node id and dense-packed
// internally; edges reference node ids. Costs come from
// EdgeCost(confidence, weight).
type Snapshot struct {
	index    map[int64]int32
	byEntity map[string]int32
	nodes    []Node
	adj      [][]halfEdge
}

// Node is one mapped entity inside a snapshot.
type Node struct {
	NodeID   int64
	EntityID string
	Name     string
}

type halfEdge struct {
	to   int32
	cost float64
	rel  string
}

// PathStep is one element of a shortest-path result. The first step is the
// source entity itself with an empty RelationshipID and zero cumulative cost.
type PathStep struct {
	EntityID       string  `json:"entity_id"`
	Name           string  `json:"name"`
	RelationshipID string  `json:"relationship_id,omitempty"`
	CumulativeCost float64 `json:"cumulative_cost"`
}

// Neighbor is one entity of a bounded-hop neighborhood, reported once at its
// minimum path cost.
type Neighbor struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Hops     int     `json:"hops"`
	PathCost float64 `json:"path_cost"`
}

// NewSnapshot creates an empty snapshot sized for nodeHint nodes.
func NewSnapshot(nodeHint int) *Snapshot {
	if nodeHint < 0 {
		nodeHint = 0
	}
	return &Snapshot{
		index:    make(map[int64]int32, nodeHint),
		byEntity: make(map[string]int32, nodeHint),
		nodes:    make([]Node, 0, nodeHint),
		adj:      make([][]halfEdge, 0, nodeHint),
	}
}

// AddNode registers a node mapping. Re-adding an existing node id is a no-op.
func (s *Snapshot) AddNode(nodeID int64, entityID, name string) {
	if _, ok := s.index[nodeID]; ok {
		return
	}
	idx := int32(len(s.nodes))
	s.index[nodeID] = idx
	s.byEntity[entityID] = idx
	s.nodes = append(s.nodes, Node{NodeID: nodeID, EntityID: entityID, Name: name})
	s.adj = append(s.adj, nil)
}

// AddEdge registers an undirected edge between two mapped nodes. Cost applies
// source to target, reverseCost the other way. An edge referencing an
// unmapped node means the adjacency diverged from the node mapping and is a
// ConsistencyError.
func (s *Snapshot) AddEdge(sourceNode, targetNode int64, cost, reverseCost float64, relationshipID string) error {
	si, ok := s.index[sourceNode]
	if !ok {
		return &common.ConsistencyError{Detail: "adjacency edge references unmapped source node"}
	}
	ti, ok := s.index[targetNode]
	if !ok {
		return &common.ConsistencyError{Detail: "adjacency edge references unmapped target node"}
	}
	if cost < 0 || reverseCost < 0 {
		return &common.ValidationError{Field: "cost", Reason: "must be non-negative"}
	}
	s.adj[si] = append(s.adj[si], halfEdge{to: ti, cost: cost, rel: relationshipID})
	s.adj[ti] = append(s.adj[ti], halfEdge{to: si, cost: reverseCost, rel: relationshipID})
	return nil
}

// Len returns the number of mapped nodes.
func (s *Snapshot) Len() int {
	return len(s.nodes)
}

// HasEntity reports whether the entity participates in the mapping.
func (s *Snapshot) HasEntity(entityID string) bool {
	_, ok := s.byEntity[entityID]
	return ok
}

func (s *Snapshot) entityIndex(entityID string) (int32, bool) {
	idx, ok := s.byEntity[entityID]
	return idx, ok
}

// EdgeCost derives the traversal cost of a relationship. Higher confidence
// means a cheaper edge. Confidence is clamped into [0,1]; a negative weight
// counts as zero.
func EdgeCost(confidence, weight float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if weight < 0 {
		weight = 0
	}
	return (1 - confidence) * weight
}
