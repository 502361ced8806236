package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracemap/cartograph/internal/queue"
	"github.com/tracemap/cartograph/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tracemap/cartograph/pkg/ai"
	oai "github.com/tracemap/cartograph/pkg/ai/ollama"
	gai "github.com/tracemap/cartograph/pkg/ai/openai"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graph"
	"github.com/tracemap/cartograph/pkg/leaselock"
	"github.com/tracemap/cartograph/pkg/logger"
	pgxstore "github.com/tracemap/cartograph/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// maxRetries is the attempt cap before a message parks in the dead-letter
// queue.
const maxRetries = 10

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(logger.NewConsole(logger.ConsoleParams{
		Debug: debug,
	}))

	// AI client
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.Client

	parallelReq := util.GetEnvInt("AI_PARALLEL_REQ", 4)
	rateLimit := util.GetEnvNumeric("AI_RATE_LIMIT", 0)
	timeoutMinutes := util.GetEnvInt("AI_TIMEOUT_MINUTES", 5)

	switch adapter {
	case "ollama":
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			TimeoutMinutes:        timeoutMinutes,
			MaxConcurrentRequests: int64(parallelReq),
			RequestsPerSecond:     rateLimit,
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			TimeoutMinutes:        timeoutMinutes,
			MaxConcurrentRequests: int64(parallelReq),
			RequestsPerSecond:     rateLimit,
		})
	}

	// Init pgx pool. AfterConnect must be set before the pool is created,
	// otherwise vector columns scan as raw bytes.
	pgCfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Invalid DATABASE_URL", "err", err)
	}
	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	storageClient := pgxstore.NewGraphDBStorage(pgConn)

	// Lease-backed document locks, so several workers can share the store.
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	lockTTL := time.Duration(util.GetEnvInt("DOCUMENT_LOCK_TTL_SECONDS", 600)) * time.Second
	locker := graph.NewLeaseLocker(leaselock.New(pgConn), lockTTL, hostname+"/")

	extractionClient, err := graph.NewExtractionClient(graph.NewExtractionClientParams{
		Store:  storageClient,
		AI:     aiClient,
		Locker: locker,

		ParallelChunks:                  parallelReq,
		ChunkSize:                       util.GetEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap:                    util.GetEnvInt("CHUNK_OVERLAP", 50),
		EntityConfidenceThreshold:       util.GetEnvNumeric("ENTITY_CONFIDENCE_THRESHOLD", 0.5),
		RelationshipConfidenceThreshold: util.GetEnvNumeric("RELATIONSHIP_CONFIDENCE_THRESHOLD", 0.6),
	})
	if err != nil {
		logger.Fatal("Could not create extraction client", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.ExtractQueue, queue.DeleteQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// Requeue documents a crashed worker left in extracting.
	staleTTL := time.Duration(util.GetEnvInt("STALE_DOCUMENT_TTL_SECONDS", 1800)) * time.Second
	if err := queue.RecoverStaleDocuments(ctx, storageClient, ch, staleTTL); err != nil {
		logger.Error("Stale document recovery failed", "err", err)
	}

	logger.Info("Listening for messages")

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.ExtractQueue:
					processingErr = queue.ProcessExtractMessage(ctx, extractionClient, storageClient, string(qm.msg.Body))
				case queue.DeleteQueue:
					processingErr = queue.ProcessDeleteMessage(ctx, extractionClient, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName, processingErr)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := aiClient.GetMetrics()
				aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
				aiHours := int(aiDuration.Hours())
				aiMinutes := int(aiDuration.Minutes()) % 60
				aiSeconds := int(aiDuration.Seconds()) % 60
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", fmt.Sprintf("%02d:%02d:%02d", aiHours, aiMinutes, aiSeconds),
				)

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string, processingErr error) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// Malformed or contradictory messages fail the same way on every
	// attempt, so they skip the retry loop.
	if common.IsValidation(processingErr) || common.IsConsistency(processingErr) {
		retries = maxRetries
	}

	// If message has exhausted its retries, send to dead-letter
	if retries >= maxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
