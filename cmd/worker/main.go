package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/config"
	"github.com/bluefishs/CK-Missive-sub000/internal/queue"
	"github.com/bluefishs/CK-Missive-sub000/internal/server"
	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/leaselock"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger/console"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"
)

// maintenanceLockKey serializes the periodic sweep across worker replicas.
const maintenanceLockKey = "graph_maintenance"

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
	})
	logger.Init(consoleLogger)

	aiClient := server.NewAIClient(cfg.AI)

	pgConn, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgConn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "err", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	extractor := graph.NewExtractor(graph.ExtractorParams{
		Client:        aiClient,
		MinConfidence: cfg.Graph.NERConfidence,
		MaxRetries:    cfg.AI.MaxRetries,
	})
	entities := entity.NewService(entity.Params{
		Conn:           pgConn,
		FuzzyThreshold: cfg.Graph.FuzzyMatchThreshold,
	})
	pipeline := graph.NewIngestionPipeline(graph.IngestionParams{
		Conn:        pgConn,
		Entities:    entities,
		BatchLimit:  cfg.Ingest.BatchLimit,
		CommitEvery: cfg.Ingest.CommitEvery,
	})
	graphCache := graph.NewResponseCache(graph.CacheParams{
		Client:      rdb,
		TTLDetail:   cfg.Graph.CacheTTLDetail,
		TTLNeighbor: cfg.Graph.CacheTTLNeighbors,
		TTLSearch:   cfg.Graph.CacheTTLSearch,
		TTLStats:    cfg.Graph.CacheTTLStats,
	})

	conn := queue.Init(cfg.RabbitMQURL)
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	go runMaintenance(ctx, pgConn, pipeline, entities, graphCache, aiClient, cfg)

	logger.Info("Listening for messages")

	// A single consumer channel with prefetch=1 so only one message is in
	// flight at a time across both queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
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
					processingErr = queue.ProcessExtract(ctx, extractor, ch, pgConn, qm.msg.Body)
				case queue.IngestQueue:
					processingErr = queue.ProcessIngest(ctx, pipeline, graphCache, pgConn, qm.msg.Body)
				}

				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := aiClient.GetMetrics()
				logger.Info(
					"AI metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", (time.Duration(metrics.DurationMs) * time.Millisecond).Round(time.Second),
				)
				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Millisecond))
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// runMaintenance periodically sweeps up documents whose extraction was
// staged but never ingested, and deduplicates canonical entities. The lease
// lock keeps the sweep on a single replica.
func runMaintenance(
	ctx context.Context,
	pgConn *pgxpool.Pool,
	pipeline *graph.IngestionPipeline,
	entities *entity.Service,
	graphCache *graph.ResponseCache,
	aiClient ai.Client,
	cfg config.Config,
) {
	interval := time.Duration(util.GetEnvNumeric("WORKER_MAINTENANCE_INTERVAL", 600)) * time.Second
	locks := leaselock.New(pgConn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := locks.WithLease(ctx, maintenanceLockKey, leaselock.Options{
			TTL: interval,
		}, func(ctx context.Context) error {
			batch, err := pipeline.BatchIngest(ctx, false)
			if err != nil {
				logger.Warn("[Worker] Batch ingest sweep failed", "err", err)
			}

			merged, err := entities.DedupeSweep(ctx, aiClient, cfg.AI.MaxRetries)
			if err != nil {
				logger.Warn("[Worker] Dedupe sweep failed", "err", err)
			}

			if batch.Ingested > 0 || merged > 0 {
				graphCache.Invalidate(ctx)
				logger.Info("[Worker] Maintenance sweep done",
					"ingested", batch.Ingested, "failed", batch.Failed, "merged", merged)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, leaselock.ErrBusy) {
				logger.Debug("[Worker] Maintenance lease held elsewhere, skipping")
				continue
			}
			logger.Warn("[Worker] Maintenance sweep aborted", "err", err)
		}
	}
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// After 10 attempts the message parks in the dead-letter queue.
	if retries >= 10 {
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
	headers["x-retries"] = int32(retries + 1)

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
