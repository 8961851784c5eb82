package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/timing"
	"github.com/bluefishs/CK-Missive-sub000/pkg/docsearch"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// DocumentJob is the message body of both work queues. Force re-runs
// ingestion even when the document already has an ingestion event.
type DocumentJob struct {
	DocumentID int64  `json:"document_id"`
	Reason     string `json:"reason,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// PublishDocumentJob puts a document on the named work queue.
func PublishDocumentJob(ch *amqp091.Channel, queueName string, documentID int64, reason string, force bool) error {
	body, err := json.Marshal(DocumentJob{DocumentID: documentID, Reason: reason, Force: force})
	if err != nil {
		return err
	}
	return PublishFIFO(ch, queueName, body)
}

// ProcessExtract runs LLM entity extraction for one document and stages the
// result, then queues the document for graph ingestion. A document that no
// longer exists is acked silently; extraction failures return an error so
// the message retries.
func ProcessExtract(
	ctx context.Context,
	extractor *graph.Extractor,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
	body []byte,
) error {
	var job DocumentJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("bad extract job payload: %w", err)
	}
	if job.DocumentID == 0 {
		return fmt.Errorf("extract job without document_id")
	}

	doc, err := docsearch.GetDocument(ctx, conn, job.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %d: %w", job.DocumentID, err)
	}
	if doc == nil {
		logger.Warn("[Queue] Document vanished before extraction", "document_id", job.DocumentID)
		return nil
	}

	start := time.Now()
	extraction, err := extractor.Extract(ctx, *doc)
	if err != nil {
		return fmt.Errorf("extraction failed for document %d: %w", job.DocumentID, err)
	}

	if err := graph.Stage(ctx, conn, job.DocumentID, extraction); err != nil {
		return fmt.Errorf("failed to stage extraction for document %d: %w", job.DocumentID, err)
	}
	timing.Record(ctx, conn, timing.PhaseExtract, 1, time.Since(start).Milliseconds())

	logger.Info("[Queue] Extraction staged",
		"document_id", job.DocumentID,
		"entities", len(extraction.Entities),
		"relations", len(extraction.Relations),
	)

	return PublishDocumentJob(ch, IngestQueue, job.DocumentID, "extraction staged", job.Force)
}

// ProcessIngest resolves one document's staged extraction into the knowledge
// graph and drops the stale graph response cache.
func ProcessIngest(
	ctx context.Context,
	pipeline *graph.IngestionPipeline,
	cache *graph.ResponseCache,
	conn *pgxpool.Pool,
	body []byte,
) error {
	var job DocumentJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("bad ingest job payload: %w", err)
	}
	if job.DocumentID == 0 {
		return fmt.Errorf("ingest job without document_id")
	}

	stats, err := pipeline.IngestDocument(ctx, job.DocumentID, job.Force)
	if err != nil {
		return fmt.Errorf("ingestion failed for document %d: %w", job.DocumentID, err)
	}
	if stats.Status == graph.IngestSkipped {
		logger.Debug("[Queue] Document already ingested", "document_id", job.DocumentID)
		return nil
	}
	timing.Record(ctx, conn, timing.PhaseIngest, 1, stats.DurationMs)

	cache.Invalidate(ctx)
	logger.Info("[Queue] Document ingested into graph",
		"document_id", job.DocumentID,
		"entities", stats.Entities,
		"relations", stats.Relations)
	return nil
}
