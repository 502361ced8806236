package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// ProcessStatType keys the rolling processing-time statistics; the amount
// recorded per run is the document's content length in bytes, which is also
// what the API layer knows at prediction time.
const ProcessStatType = "document_process"

// aiCallTimeout bounds one generator or embedding call. A timed-out attempt
// is retried; the chunk fails only after the retry budget is spent.
const aiCallTimeout = 2 * time.Minute

// ExtractionResult summarizes one pipeline run over a document. Discarded
// counts low-confidence candidates, dropped counts candidates rejected at
// commit (unknown endpoints, self loops, out-of-taxonomy types).
type ExtractionResult struct {
	DocumentID string                `json:"document_id"`
	Status     common.DocumentStatus `json:"status"`

	ChunkCount       int `json:"chunk_count"`
	FailedChunks     int `json:"failed_chunks"`
	FailedEmbeddings int `json:"failed_embeddings"`

	EntityCandidates  int `json:"entity_candidates"`
	EntitiesCommitted int `json:"entities_committed"`
	EntitiesDiscarded int `json:"entities_discarded"`

	RelationshipCandidates int `json:"relationship_candidates"`
	RelationshipsCommitted int `json:"relationships_committed"`
	RelationshipsDiscarded int `json:"relationships_discarded"`
	RelationshipsDropped   int `json:"relationships_dropped"`

	DurationMs int64 `json:"duration_ms"`
}

// failureSet tracks which chunks failed a pipeline phase. A chunk failing
// both extraction phases counts once.
type failureSet struct {
	mu  sync.Mutex
	set map[int]struct{}
}

func newFailureSet() *failureSet {
	return &failureSet{set: make(map[int]struct{})}
}

func (f *failureSet) add(index int) {
	f.mu.Lock()
	f.set[index] = struct{}{}
	f.mu.Unlock()
}

func (f *failureSet) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

// ProcessDocument runs the full extraction pipeline for one document:
// chunking, embedding, entity extraction, relationship extraction, and graph
// construction. Chunk-level failures are recorded and skipped, never fatal;
// the document ends Committed or PartiallyFailed and stays queryable either
// way. Reprocessing is idempotent: upserts refresh confidences instead of
// duplicating rows.
func (c *ExtractionClient) ProcessDocument(ctx context.Context, documentID string) (*ExtractionResult, error) {
	start := time.Now()

	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, err := c.store.GetDocumentContent(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetDocumentStatus(ctx, documentID, common.StatusExtracting, 0); err != nil {
		return nil, err
	}

	logger.Info("[Graph] Processing document", "document", documentID, "name", doc.Name, "bytes", len(content))

	docCtx := DocumentContext{DocumentID: documentID, DocumentName: doc.Name}
	res := &ExtractionResult{DocumentID: documentID}
	failed := newFailureSet()

	chunks, err := c.chunkDocument(ctx, documentID, content)
	if err != nil {
		return nil, err
	}
	res.ChunkCount = len(chunks)

	if res.FailedEmbeddings, err = c.embedChunks(ctx, documentID, chunks); err != nil {
		return nil, err
	}

	if err := c.extractEntities(ctx, docCtx, chunks, failed, res); err != nil {
		return nil, err
	}

	entities, err := c.store.ResolveEntities(ctx, documentID)
	if err != nil {
		return nil, err
	}
	res.EntitiesCommitted = len(entities)

	if len(entities) > 0 {
		refs := FormatEntityRefs(entities)
		known := make(map[string]struct{}, len(entities))
		for _, e := range entities {
			known[e.ID] = struct{}{}
		}

		pending, err := c.extractRelationships(ctx, docCtx, chunks, refs, known, failed, res)
		if err != nil {
			return nil, err
		}
		if err := c.commitRelationships(ctx, documentID, pending, res); err != nil {
			return nil, err
		}
		relations, err := c.store.GetRelationships(ctx, documentID)
		if err != nil {
			return nil, err
		}
		res.RelationshipsCommitted = len(relations)
	}

	res.FailedChunks = failed.size()
	status := common.StatusCommitted
	if res.FailedChunks > 0 {
		status = common.StatusPartiallyFailed
	}
	if err := c.store.SetDocumentStatus(ctx, documentID, status, res.FailedChunks); err != nil {
		return nil, err
	}
	res.Status = status
	res.DurationMs = time.Since(start).Milliseconds()

	if err := c.store.AddProcessStat(ctx, ProcessStatType, len(content), res.DurationMs); err != nil {
		logger.Warn("[Graph] Failed to record process stat", "document", documentID, "error", err)
	}

	logger.Info("[Graph] Document processed",
		"document", documentID,
		"status", string(status),
		"chunks", res.ChunkCount,
		"failed_chunks", res.FailedChunks,
		"entities", res.EntitiesCommitted,
		"relationships", res.RelationshipsCommitted,
		"duration_ms", res.DurationMs,
	)

	return res, nil
}

// DeleteDocument cascades a document and its graph under the document lock,
// so a delete never interleaves with a running extraction commit.
func (c *ExtractionClient) DeleteDocument(ctx context.Context, documentID string) error {
	logger.Info("[Graph] Deleting document", "document", documentID)
	return c.locker.WithLock(ctx, documentID, func(ctx context.Context) error {
		return c.store.DeleteDocument(ctx, documentID)
	})
}

func (c *ExtractionClient) chunkDocument(ctx context.Context, documentID, content string) ([]common.Chunk, error) {
	started := time.Now()

	spans, err := c.splitter.Split(ctx, content)
	if err != nil {
		c.recordStage(ctx, documentID, common.StageChunking, "failed", err.Error(), started)
		return nil, fmt.Errorf("failed to split document content: %w", err)
	}

	chunks := make([]common.Chunk, 0, len(spans))
	for _, span := range spans {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate chunk id: %w", err)
		}
		chunks = append(chunks, common.Chunk{
			ID:         id,
			Document:   documentID,
			Index:      span.Index,
			Content:    span.Text,
			TokenCount: span.TokenCount,
		})
	}

	c.recordStage(ctx, documentID, common.StageChunking, "completed", "", started)
	return chunks, nil
}

// embedChunks generates one embedding per chunk and persists the chunk set.
// A failed embedding leaves the chunk without a vector; it stays reachable
// through full-text search and is counted, not fatal.
func (c *ExtractionClient) embedChunks(ctx context.Context, documentID string, chunks []common.Chunk) (int, error) {
	started := time.Now()
	failures := 0

	var mu sync.Mutex
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelChunks)
	for i := range chunks {
		idx := i
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				embedding, err := util.RetryWithContext(gCtx, c.maxRetries, func(ctx context.Context) ([]float32, error) {
					callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
					defer cancel()
					return c.ai.GenerateEmbedding(callCtx, []byte(chunks[idx].Content))
				})
				if err != nil {
					logger.Warn("[Graph] Embedding failed for chunk", "document", documentID, "chunk", chunks[idx].ID, "error", err)
					mu.Lock()
					failures++
					mu.Unlock()
					return nil
				}
				chunks[idx].Embedding = embedding
				return nil
			}
		})
	}
	if err := eg.Wait(); err != nil {
		c.recordStage(ctx, documentID, common.StageEmbedding, "failed", err.Error(), started)
		return failures, err
	}
	if err := ctx.Err(); err != nil {
		c.recordStage(ctx, documentID, common.StageEmbedding, "failed", err.Error(), started)
		return failures, err
	}

	if err := c.store.SaveChunks(ctx, documentID, chunks); err != nil {
		c.recordStage(ctx, documentID, common.StageEmbedding, "failed", err.Error(), started)
		return failures, err
	}

	errText := ""
	if failures > 0 {
		errText = fmt.Sprintf("embedding failed for %d of %d chunks", failures, len(chunks))
	}
	c.recordStage(ctx, documentID, common.StageEmbedding, "completed", errText, started)
	return failures, nil
}

func (c *ExtractionClient) extractEntities(ctx context.Context, docCtx DocumentContext, chunks []common.Chunk, failed *failureSet, res *ExtractionResult) error {
	started := time.Now()

	var mu sync.Mutex
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelChunks)
	for _, ch := range chunks {
		ch := ch
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				candidates, err := util.RetryWithContext(gCtx, c.maxRetries, func(ctx context.Context) ([]common.EntityCandidate, error) {
					callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
					defer cancel()
					return c.generator.ExtractEntities(callCtx, docCtx, ch.Content)
				})
				if err != nil {
					logger.Warn("[Graph] Entity extraction failed for chunk", "document", docCtx.DocumentID, "chunk", ch.ID, "error", err)
					failed.add(ch.Index)
					return nil
				}

				mu.Lock()
				res.EntityCandidates += len(candidates)
				mu.Unlock()

				for _, candidate := range candidates {
					if candidate.Confidence < c.entityThreshold {
						mu.Lock()
						res.EntitiesDiscarded++
						mu.Unlock()
						continue
					}
					candidate.Document = docCtx.DocumentID
					candidate.Chunk = ch.ID
					if _, err := c.store.UpsertEntity(gCtx, candidate); err != nil {
						if common.IsConsistency(err) {
							return err
						}
						if common.IsValidation(err) {
							mu.Lock()
							res.EntitiesDiscarded++
							mu.Unlock()
							continue
						}
						logger.Warn("[Graph] Entity commit failed for chunk", "document", docCtx.DocumentID, "chunk", ch.ID, "error", err)
						failed.add(ch.Index)
						return nil
					}
				}
				return nil
			}
		})
	}
	if err := eg.Wait(); err != nil {
		c.recordStage(ctx, docCtx.DocumentID, common.StageEntityExtraction, "failed", err.Error(), started)
		return err
	}
	if err := ctx.Err(); err != nil {
		c.recordStage(ctx, docCtx.DocumentID, common.StageEntityExtraction, "failed", err.Error(), started)
		return err
	}

	errText := ""
	if n := failed.size(); n > 0 {
		errText = fmt.Sprintf("%d of %d chunks failed", n, len(chunks))
	}
	c.recordStage(ctx, docCtx.DocumentID, common.StageEntityExtraction, "completed", errText, started)
	return nil
}

// extractRelationships generates relationship candidates per chunk against
// the committed entity references. Candidates below the confidence threshold
// or referencing ids outside the committed set never reach the commit phase.
func (c *ExtractionClient) extractRelationships(
	ctx context.Context,
	docCtx DocumentContext,
	chunks []common.Chunk,
	entityRefs string,
	known map[string]struct{},
	failed *failureSet,
	res *ExtractionResult,
) ([]common.RelationshipCandidate, error) {
	started := time.Now()

	pending := make([]common.RelationshipCandidate, 0)
	var mu sync.Mutex
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelChunks)
	for _, ch := range chunks {
		ch := ch
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				candidates, err := util.RetryWithContext(gCtx, c.maxRetries, func(ctx context.Context) ([]common.RelationshipCandidate, error) {
					callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
					defer cancel()
					return c.generator.ExtractRelationships(callCtx, docCtx, entityRefs, ch.Content)
				})
				if err != nil {
					logger.Warn("[Graph] Relationship extraction failed for chunk", "document", docCtx.DocumentID, "chunk", ch.ID, "error", err)
					failed.add(ch.Index)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				res.RelationshipCandidates += len(candidates)
				for _, candidate := range candidates {
					if candidate.Confidence < c.relationshipThreshold {
						res.RelationshipsDiscarded++
						continue
					}
					_, srcKnown := known[candidate.SourceID]
					_, tgtKnown := known[candidate.TargetID]
					if !srcKnown || !tgtKnown {
						res.RelationshipsDropped++
						continue
					}
					candidate.Document = docCtx.DocumentID
					pending = append(pending, candidate)
				}
				return nil
			}
		})
	}
	if err := eg.Wait(); err != nil {
		c.recordStage(ctx, docCtx.DocumentID, common.StageRelationshipExtraction, "failed", err.Error(), started)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.recordStage(ctx, docCtx.DocumentID, common.StageRelationshipExtraction, "failed", err.Error(), started)
		return nil, err
	}

	errText := ""
	if res.RelationshipsDiscarded > 0 || res.RelationshipsDropped > 0 {
		errText = fmt.Sprintf("discarded %d below threshold, dropped %d invalid references", res.RelationshipsDiscarded, res.RelationshipsDropped)
	}
	c.recordStage(ctx, docCtx.DocumentID, common.StageRelationshipExtraction, "completed", errText, started)
	return pending, nil
}

// commitRelationships writes the accepted candidates under the document
// lock. Per-candidate rejections by the store are counted and skipped; any
// other storage error aborts so the worker can retry the run.
func (c *ExtractionClient) commitRelationships(ctx context.Context, documentID string, pending []common.RelationshipCandidate, res *ExtractionResult) error {
	started := time.Now()

	err := c.locker.WithLock(ctx, documentID, func(ctx context.Context) error {
		for _, candidate := range pending {
			if _, err := c.store.UpsertRelationship(ctx, candidate); err != nil {
				if common.IsValidation(err) {
					res.RelationshipsDropped++
					continue
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.recordStage(ctx, documentID, common.StageGraphConstruction, "failed", err.Error(), started)
		return err
	}

	c.recordStage(ctx, documentID, common.StageGraphConstruction, "completed", "", started)
	return nil
}

func (c *ExtractionClient) recordStage(ctx context.Context, documentID, stage, status, errText string, started time.Time) {
	stageErr := c.store.AddPipelineStage(ctx, documentID, common.PipelineStage{
		Stage:      stage,
		Status:     status,
		Error:      errText,
		DurationMs: time.Since(started).Milliseconds(),
	})
	if stageErr != nil {
		logger.Warn("[Graph] Failed to record pipeline stage", "document", documentID, "stage", stage, "error", stageErr)
	}
}
