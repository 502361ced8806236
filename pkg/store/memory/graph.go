package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/store"
)

func (s *Store) UpsertEntity(ctx context.Context, candidate common.EntityCandidate) (string, error) {
	if err := store.ValidateEntityCandidate(candidate); err != nil {
		return "", err
	}
	candidate.Type = common.NormalizeEntityType(string(candidate.Type))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[candidate.Document]; !ok {
		return "", &common.NotFoundError{Kind: "document", ID: candidate.Document}
	}
	if err := s.takeCommitErr(); err != nil {
		return "", err
	}

	key := entityKey{
		document: candidate.Document,
		kind:     candidate.Type,
		name:     normalizeName(candidate.Name),
	}
	if id, ok := s.entityKeys[key]; ok {
		ent := s.entities[id]
		if candidate.Confidence > ent.Confidence {
			ent.Confidence = candidate.Confidence
		}
		if len(candidate.Metadata) > 0 {
			if ent.Metadata == nil {
				ent.Metadata = make(map[string]string, len(candidate.Metadata))
			}
			for k, v := range candidate.Metadata {
				ent.Metadata[k] = v
			}
		}
		return id, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate entity id: %w", err)
	}
	s.entities[id] = &common.Entity{
		ID:         id,
		Name:       strings.TrimSpace(candidate.Name),
		Type:       candidate.Type,
		Confidence: candidate.Confidence,
		Document:   candidate.Document,
		Chunk:      candidate.Chunk,
		Metadata:   cloneMetadata(candidate.Metadata),
	}
	s.entityKeys[key] = id
	return id, nil
}

func (s *Store) GetEntity(ctx context.Context, entityID string) (*common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[entityID]
	if !ok {
		return nil, &common.NotFoundError{Kind: "entity", ID: entityID}
	}
	out := *ent
	out.Metadata = cloneMetadata(ent.Metadata)
	return &out, nil
}

func (s *Store) ResolveEntities(ctx context.Context, documentID string) ([]common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}

	out := make([]common.Entity, 0)
	for _, ent := range s.entities {
		if ent.Document != documentID {
			continue
		}
		e := *ent
		e.Metadata = cloneMetadata(ent.Metadata)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityID]; !ok {
		return &common.NotFoundError{Kind: "entity", ID: entityID}
	}
	if err := s.takeCommitErr(); err != nil {
		return err
	}

	for id, rel := range s.relations {
		if rel.SourceID == entityID || rel.TargetID == entityID {
			s.removeRelationshipLocked(id)
		}
	}
	s.removeEntityLocked(entityID)
	return nil
}

func (s *Store) UpsertRelationship(ctx context.Context, candidate common.RelationshipCandidate) (string, error) {
	if err := store.ValidateRelationshipCandidate(candidate); err != nil {
		return "", err
	}
	if kind, ok := common.ParseRelationshipType(string(candidate.Type)); ok {
		candidate.Type = kind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[candidate.Document]; !ok {
		return "", &common.NotFoundError{Kind: "document", ID: candidate.Document}
	}
	src, ok := s.entities[candidate.SourceID]
	if !ok || src.Document != candidate.Document {
		return "", fmt.Errorf("%w: %s", store.ErrInvalidEndpoint, candidate.SourceID)
	}
	tgt, ok := s.entities[candidate.TargetID]
	if !ok || tgt.Document != candidate.Document {
		return "", fmt.Errorf("%w: %s", store.ErrInvalidEndpoint, candidate.TargetID)
	}
	if err := s.takeCommitErr(); err != nil {
		return "", err
	}

	weight := store.EffectiveWeight(candidate.Weight)
	cost := graphalgo.EdgeCost(candidate.Confidence, weight)

	key := relationKey{
		source:   candidate.SourceID,
		target:   candidate.TargetID,
		kind:     candidate.Type,
		document: candidate.Document,
	}
	if id, ok := s.relationKeys[key]; ok {
		rel := s.relations[id]
		rel.Confidence = candidate.Confidence
		rel.Weight = weight
		s.edges[id].cost = cost
		return id, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate relationship id: %w", err)
	}
	srcNode := s.nodeForLocked(candidate.SourceID)
	tgtNode := s.nodeForLocked(candidate.TargetID)

	s.relations[id] = &common.Relationship{
		ID:         id,
		Document:   candidate.Document,
		SourceID:   candidate.SourceID,
		TargetID:   candidate.TargetID,
		Type:       candidate.Type,
		Confidence: candidate.Confidence,
		Weight:     weight,
	}
	s.relationKeys[key] = id
	s.edges[id] = &edgeRecord{source: srcNode, target: tgtNode, cost: cost}
	s.addNeighborLocked(srcNode, tgtNode, id)
	s.addNeighborLocked(tgtNode, srcNode, id)
	return id, nil
}

func (s *Store) GetRelationships(ctx context.Context, documentID string) ([]common.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}

	out := make([]common.Relationship, 0)
	for _, rel := range s.relations {
		if rel.Document == documentID {
			out = append(out, *rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetNeighbors(ctx context.Context, entityID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, &common.NotFoundError{Kind: "entity", ID: entityID}
	}
	node, ok := s.nodeByEntity[entityID]
	if !ok {
		return nil, nil
	}

	peers := make([]string, 0, len(s.neighbors[node]))
	for peerNode := range s.neighbors[node] {
		peerID, ok := s.entityByNode[peerNode]
		if !ok {
			return nil, &common.ConsistencyError{Detail: fmt.Sprintf("adjacency references unmapped node %d", peerNode)}
		}
		peers = append(peers, peerID)
	}
	sort.Strings(peers)
	return peers, nil
}

func (s *Store) LoadAdjacency(ctx context.Context, scope store.Scope) (*graphalgo.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !scope.Global() {
		if _, ok := s.documents[scope.Document]; !ok {
			return nil, &common.NotFoundError{Kind: "document", ID: scope.Document}
		}
	}

	snap := graphalgo.NewSnapshot(len(s.nodeByEntity))
	for entityID, node := range s.nodeByEntity {
		ent, ok := s.entities[entityID]
		if !ok {
			return nil, &common.ConsistencyError{Detail: fmt.Sprintf("node mapping references missing entity %s", entityID)}
		}
		if !scope.Global() && ent.Document != scope.Document {
			continue
		}
		snap.AddNode(node, entityID, ent.Name)
	}
	for relID, edge := range s.edges {
		rel, ok := s.relations[relID]
		if !ok {
			return nil, &common.ConsistencyError{Detail: fmt.Sprintf("adjacency edge without relationship row %s", relID)}
		}
		if !scope.Global() && rel.Document != scope.Document {
			continue
		}
		if err := snap.AddEdge(edge.source, edge.target, edge.cost, edge.cost, relID); err != nil {
			return nil, err
		}
	}
	if len(s.edges) != len(s.relations) {
		return nil, &common.ConsistencyError{Detail: "relationship count diverges from edge count"}
	}
	return snap, nil
}

func (s *Store) GraphStats(ctx context.Context, scope store.Scope) (*common.GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !scope.Global() {
		if _, ok := s.documents[scope.Document]; !ok {
			return nil, &common.NotFoundError{Kind: "document", ID: scope.Document}
		}
	}

	stats := &common.GraphStats{
		EntityTypes:       make(map[string]int64),
		RelationshipTypes: make(map[string]int64),
	}
	if scope.Global() {
		stats.Documents = int64(len(s.documents))
	} else {
		stats.Documents = 1
	}

	degree := make(map[string]int64)
	for _, ent := range s.entities {
		if !scope.Global() && ent.Document != scope.Document {
			continue
		}
		stats.Entities++
		stats.EntityTypes[string(ent.Type)]++
	}
	for _, rel := range s.relations {
		if !scope.Global() && rel.Document != scope.Document {
			continue
		}
		stats.Relationships++
		stats.Edges++
		stats.RelationshipTypes[string(rel.Type)]++
		degree[rel.SourceID]++
		degree[rel.TargetID]++
	}
	if stats.Entities > 0 {
		stats.AvgDegree = float64(stats.Relationships*2) / float64(stats.Entities)
	}
	for id, d := range degree {
		if d > degree[stats.MostConnected] || (d == degree[stats.MostConnected] && (stats.MostConnected == "" || id < stats.MostConnected)) {
			stats.MostConnected = id
		}
	}
	return stats, nil
}

func (s *Store) nodeForLocked(entityID string) int64 {
	if node, ok := s.nodeByEntity[entityID]; ok {
		return node
	}
	s.nextNode++
	s.nodeByEntity[entityID] = s.nextNode
	s.entityByNode[s.nextNode] = entityID
	return s.nextNode
}

func (s *Store) addNeighborLocked(from, to int64, relationshipID string) {
	peers, ok := s.neighbors[from]
	if !ok {
		peers = make(map[int64][]string)
		s.neighbors[from] = peers
	}
	peers[to] = append(peers[to], relationshipID)
}

func (s *Store) removeEntityLocked(entityID string) {
	ent := s.entities[entityID]
	if ent == nil {
		return
	}
	delete(s.entityKeys, entityKey{
		document: ent.Document,
		kind:     ent.Type,
		name:     normalizeName(ent.Name),
	})
	if node, ok := s.nodeByEntity[entityID]; ok {
		delete(s.nodeByEntity, entityID)
		delete(s.entityByNode, node)
		delete(s.neighbors, node)
	}
	delete(s.entities, entityID)
}

func (s *Store) removeRelationshipLocked(relationshipID string) {
	rel := s.relations[relationshipID]
	if rel == nil {
		return
	}
	delete(s.relationKeys, relationKey{
		source:   rel.SourceID,
		target:   rel.TargetID,
		kind:     rel.Type,
		document: rel.Document,
	})
	if edge, ok := s.edges[relationshipID]; ok {
		s.removeNeighborLocked(edge.source, edge.target, relationshipID)
		s.removeNeighborLocked(edge.target, edge.source, relationshipID)
		delete(s.edges, relationshipID)
	}
	delete(s.relations, relationshipID)
}

func (s *Store) removeNeighborLocked(from, to int64, relationshipID string) {
	peers, ok := s.neighbors[from]
	if !ok {
		return
	}
	ids := peers[to]
	kept := ids[:0]
	for _, id := range ids {
		if id != relationshipID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(peers, to)
		if len(peers) == 0 {
			delete(s.neighbors, from)
		}
		return
	}
	peers[to] = kept
}
