package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graph"
	"github.com/tracemap/cartograph/pkg/logger"
)

// ProcessDeleteMessage cascade-deletes the document named in the message.
// The delete runs under the same per-document lock as extraction, so it
// waits out a running pipeline instead of pulling the graph out from under
// it. Deleting an already deleted document is a no-op.
func ProcessDeleteMessage(ctx context.Context, client *graph.ExtractionClient, msg string) error {
	data := new(DeleteDocumentMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.DocumentID == "" {
		return &common.ValidationError{Field: "document_id", Reason: "must not be empty"}
	}

	start := time.Now()
	if err := client.DeleteDocument(ctx, data.DocumentID); err != nil {
		if common.IsNotFound(err) {
			logger.Info("[Queue] Document already deleted", "document", data.DocumentID)
			return nil
		}
		return err
	}

	logger.Info("[Queue] Delete completed", "document", data.DocumentID, "duration_sec", time.Since(start).Seconds())
	return nil
}
