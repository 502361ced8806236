package queue

import (
	"context"
	"encoding/json"

	"github.com/tracemap/cartograph/internal/metrics"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graph"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"
)

// ProcessExtractMessage runs the extraction pipeline for the document named
// in the message. A document that disappeared before the worker got to it is
// acked as done, not retried; the delete already won.
func ProcessExtractMessage(
	ctx context.Context,
	client *graph.ExtractionClient,
	storageClient store.GraphStorage,
	msg string,
) error {
	data := new(ExtractDocumentMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.DocumentID == "" {
		return &common.ValidationError{Field: "document_id", Reason: "must not be empty"}
	}

	content, err := storageClient.GetDocumentContent(ctx, data.DocumentID)
	if err != nil {
		if common.IsNotFound(err) {
			logger.Warn("[Queue] Document gone before extraction, skipping", "document", data.DocumentID)
			return nil
		}
		return err
	}

	prediction, err := storageClient.PredictDuration(ctx, graph.ProcessStatType, len(content))
	if err != nil {
		prediction = 0
	}
	logger.Info("[Queue] Prediction for extraction", "document", data.DocumentID, "bytes", len(content), "time_ms", prediction)

	res, err := client.ProcessDocument(ctx, data.DocumentID)
	if err != nil {
		return err
	}

	metrics.DocumentProcessed(string(res.Status))
	metrics.ChunksFailed(res.FailedChunks)
	metrics.CandidatesDiscarded(metrics.ReasonLowConfidence, res.EntitiesDiscarded+res.RelationshipsDiscarded)
	metrics.CandidatesDiscarded(metrics.ReasonUnresolvedEndpoint, res.RelationshipsDropped)

	return nil
}
