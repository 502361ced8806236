// Package memory implements store.GraphStorage entirely in process. It backs
// tests and embedded single-node use; pgx is the production implementation
// of the same contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

type entityKey struct {
	document string
	kind     common.EntityType
	name     string
}

type relationKey struct {
	source   string
	target   string
	kind     common.RelationshipType
	document string
}

type edgeRecord struct {
	source int64
	target int64
	cost   float64
}

type processStat struct {
	statType   string
	amount     int
	durationMs int64
}

type documentRecord struct {
	doc     common.Document
	content string
	chunks  []common.Chunk
	stages  []common.PipelineStage
}

// Store is the in-process graph store. One mutex serializes all operations;
// mutating calls validate and resolve everything up front and touch the maps
// only once nothing can fail anymore, which is what keeps the relationship
// and its adjacency edge an atomic pair.
type Store struct {
	mu sync.Mutex

	documents map[string]*documentRecord
	entities  map[string]*common.Entity
	relations map[string]*common.Relationship

	entityKeys   map[entityKey]string
	relationKeys map[relationKey]string

	nodeByEntity map[string]int64
	entityByNode map[int64]string
	edges        map[string]*edgeRecord
	neighbors    map[int64]map[int64][]string

	stats    []processStat
	nextNode int64

	commitErr error

	now func() time.Time
}

// NewStore returns an empty in-process store.
func NewStore() *Store {
	return &Store{
		documents:    make(map[string]*documentRecord),
		entities:     make(map[string]*common.Entity),
		relations:    make(map[string]*common.Relationship),
		entityKeys:   make(map[entityKey]string),
		relationKeys: make(map[relationKey]string),
		nodeByEntity: make(map[string]int64),
		entityByNode: make(map[int64]string),
		edges:        make(map[string]*edgeRecord),
		neighbors:    make(map[int64]map[int64][]string),
		now:          time.Now,
	}
}

// FailNextCommit arms a one-shot failure for the next graph mutation. Tests
// use it to verify that a failed commit leaves no partial state behind.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *Store) takeCommitErr() error {
	err := s.commitErr
	s.commitErr = nil
	return err
}

func (s *Store) CreateDocument(ctx context.Context, name, content string) (*common.Document, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &common.ValidationError{Field: "Name", Reason: "must not be empty"}
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate document id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &documentRecord{
		doc: common.Document{
			ID:        id,
			Name:      name,
			Status:    common.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		content: content,
	}
	s.documents[id] = rec

	doc := rec.doc
	return &doc, nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (*common.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}
	doc := rec.doc
	return &doc, nil
}

func (s *Store) GetDocumentContent(ctx context.Context, documentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return "", &common.NotFoundError{Kind: "document", ID: documentID}
	}
	return rec.content, nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}
	if err := s.takeCommitErr(); err != nil {
		return err
	}

	for id, rel := range s.relations {
		if rel.Document == documentID {
			s.removeRelationshipLocked(id)
		}
	}
	for id, ent := range s.entities {
		if ent.Document == documentID {
			s.removeEntityLocked(id)
		}
	}
	delete(s.documents, documentID)
	return nil
}

func (s *Store) SaveChunks(ctx context.Context, documentID string, chunks []common.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}

	stored := make([]common.Chunk, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate chunk id: %w", err)
			}
			c.ID = id
		}
		c.Document = documentID
		stored[i] = c
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })

	rec.chunks = stored
	rec.doc.ChunkCount = len(stored)
	rec.doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}
	out := make([]common.Chunk, len(rec.chunks))
	copy(out, rec.chunks)
	return out, nil
}

func (s *Store) GetDocumentStatus(ctx context.Context, documentID string) (common.DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return "", &common.NotFoundError{Kind: "document", ID: documentID}
	}
	return rec.doc.Status, nil
}

func (s *Store) SetDocumentStatus(ctx context.Context, documentID string, status common.DocumentStatus, failedChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}
	rec.doc.Status = status
	rec.doc.FailedChunks = failedChunks
	rec.doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) AddPipelineStage(ctx context.Context, documentID string, stage common.PipelineStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return &common.NotFoundError{Kind: "document", ID: documentID}
	}
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = s.now()
	}
	rec.stages = append(rec.stages, stage)
	return nil
}

func (s *Store) GetPipelineStages(ctx context.Context, documentID string) ([]common.PipelineStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.documents[documentID]
	if !ok {
		return nil, &common.NotFoundError{Kind: "document", ID: documentID}
	}
	out := make([]common.PipelineStage, len(rec.stages))
	copy(out, rec.stages)
	return out, nil
}

func (s *Store) AddProcessStat(ctx context.Context, statType string, amount int, durationMs int64) error {
	if statType == "" {
		return &common.ValidationError{Field: "StatType", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = append(s.stats, processStat{statType: statType, amount: amount, durationMs: durationMs})
	return nil
}

// PredictDuration extrapolates from the most recent recorded runs of the
// stat type. No history means no prediction, reported as zero.
func (s *Store) PredictDuration(ctx context.Context, statType string, amount int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalAmount int
	var totalDuration int64
	seen := 0
	for i := len(s.stats) - 1; i >= 0 && seen < store.PredictionWindow; i-- {
		st := s.stats[i]
		if st.statType != statType {
			continue
		}
		totalAmount += st.amount
		totalDuration += st.durationMs
		seen++
	}
	if totalAmount <= 0 {
		return 0, nil
	}
	return int64(float64(totalDuration) / float64(totalAmount) * float64(amount)), nil
}

func (s *Store) RecoverStaleDocuments(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, &common.ValidationError{Field: "olderThan", Reason: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	recovered := make([]string, 0)
	for id, rec := range s.documents {
		if rec.doc.Status != common.StatusExtracting || rec.doc.UpdatedAt.After(cutoff) {
			continue
		}
		rec.doc.Status = common.StatusPending
		rec.doc.UpdatedAt = s.now()
		recovered = append(recovered, id)
	}
	sort.Strings(recovered)
	return recovered, nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeName(name string) string {
	return util.NormalizeText(name)
}
