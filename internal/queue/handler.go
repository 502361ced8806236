package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"
)

// RecoverStaleDocuments sweeps documents left in extracting by a crashed
// worker, resets them to pending, and requeues them for extraction. Workers
// run it once at boot, before consuming.
func RecoverStaleDocuments(
	ctx context.Context,
	storageClient store.GraphStorage,
	ch *amqp091.Channel,
	olderThan time.Duration,
) error {
	recovered, err := storageClient.RecoverStaleDocuments(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to recover stale documents: %w", err)
	}

	if len(recovered) == 0 {
		logger.Debug("[Queue] No stale documents found")
		return nil
	}

	logger.Info("[Queue] Found stale documents", "count", len(recovered))

	for _, documentID := range recovered {
		body, err := json.Marshal(ExtractDocumentMsg{DocumentID: documentID})
		if err != nil {
			logger.Error("[Queue] Failed to marshal requeue message", "document", documentID, "err", err)
			continue
		}
		if err := PublishFIFO(ch, ExtractQueue, body); err != nil {
			logger.Error("[Queue] Failed to requeue stale document", "document", documentID, "err", err)
			continue
		}
		logger.Info("[Queue] Requeued stale document", "document", documentID)
	}

	return nil
}
