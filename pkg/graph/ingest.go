package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ingestion event statuses recorded on graph_ingestion_events.
const (
	IngestCompleted = "completed"
	IngestSkipped   = "skipped"
)

// EntityResolver maps extracted entity mentions onto canonical graph nodes.
// Implemented by entity.Service.
type EntityResolver interface {
	ResolveBatch(ctx context.Context, conn entity.Conn, mentions []common.ExtractedEntity) ([]entity.Resolved, error)
}

// IngestionPipeline turns staged extractions into canonical graph nodes,
// mentions, and weighted edges. Ingestion is idempotent per document: an
// ingestion event row is claimed first and a document with an existing event
// is skipped unless forced, so queue redeliveries and overlapping batch runs
// are safe.
type IngestionPipeline struct {
	conn     *pgxpool.Pool
	entities EntityResolver

	batchLimit  int
	commitEvery int
}

// IngestionParams configures an IngestionPipeline. Zero limits select
// defaults.
type IngestionParams struct {
	Conn        *pgxpool.Pool
	Entities    EntityResolver
	BatchLimit  int
	CommitEvery int
}

func NewIngestionPipeline(params IngestionParams) *IngestionPipeline {
	if params.BatchLimit <= 0 {
		params.BatchLimit = 50
	}
	if params.CommitEvery <= 0 {
		params.CommitEvery = 10
	}
	return &IngestionPipeline{
		conn:        params.Conn,
		entities:    params.Entities,
		batchLimit:  params.BatchLimit,
		commitEvery: params.CommitEvery,
	}
}

// IngestStats summarizes one ingestion run over one document. The same
// numbers are persisted on the document's graph_ingestion_events row.
type IngestStats struct {
	Status     string `json:"status"`
	Entities   int    `json:"entities"`
	Relations  int    `json:"relations"`
	DurationMs int64  `json:"duration_ms"`
}

// BatchStats aggregates one batch sweep.
type BatchStats struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// IngestDocument ingests one staged document in its own transaction. A
// document with an existing ingestion event reports IngestSkipped; force
// supersedes the prior event and re-resolves the staged extraction.
func (p *IngestionPipeline) IngestDocument(ctx context.Context, documentID int64, force bool) (IngestStats, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return IngestStats{}, err
	}
	defer tx.Rollback(ctx)

	stats, err := p.ingestInTx(ctx, tx, documentID, force)
	if err != nil {
		return IngestStats{}, err
	}
	if stats.Status == IngestSkipped {
		return stats, nil
	}
	return stats, tx.Commit(ctx)
}

// BatchIngest drains pending staged documents. Each document runs inside a
// savepoint so one poisoned extraction rolls back alone, and the surrounding
// transaction commits every commitEvery documents to bound lock lifetime.
// The final commit failure is logged, not returned: every committed chunk
// already counts.
func (p *IngestionPipeline) BatchIngest(ctx context.Context, force bool) (BatchStats, error) {
	var stats BatchStats

	pending, err := PendingDocuments(ctx, p.conn, p.batchLimit, force)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}
	logger.Info("[Graph] Batch ingestion starting", "pending", len(pending))

	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	sinceCommit := 0
	for _, documentID := range pending {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return stats, err
		}
		res, err := p.ingestInTx(ctx, sp, documentID, force)
		if err != nil {
			sp.Rollback(ctx)
			stats.Failed++
			logger.Warn("[Graph] Document ingestion failed, skipping",
				"document_id", documentID, "error", err)
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return stats, err
		}
		if res.Status == IngestSkipped {
			stats.Skipped++
			continue
		}
		stats.Ingested++
		sinceCommit++

		if sinceCommit >= p.commitEvery {
			if err := tx.Commit(ctx); err != nil {
				return stats, err
			}
			tx, err = p.conn.Begin(ctx)
			if err != nil {
				return stats, err
			}
			sinceCommit = 0
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Warn("[Graph] Final batch commit failed", "error", err)
	}

	logger.Info("[Graph] Batch ingestion finished",
		"ingested", stats.Ingested, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

func (p *IngestionPipeline) ingestInTx(ctx context.Context, tx pgx.Tx, documentID int64, force bool) (IngestStats, error) {
	start := time.Now()

	if force {
		if _, err := tx.Exec(ctx,
			`DELETE FROM graph_ingestion_events WHERE document_id = $1`, documentID,
		); err != nil {
			return IngestStats{}, fmt.Errorf("failed to supersede ingestion event: %w", err)
		}
	}

	// Claiming the event row first makes redelivery a cheap no-op.
	tag, err := tx.Exec(ctx, `
		INSERT INTO graph_ingestion_events (document_id, status)
		VALUES ($1, 'started')
		ON CONFLICT (document_id) DO NOTHING`,
		documentID,
	)
	if err != nil {
		return IngestStats{}, fmt.Errorf("failed to claim ingestion event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Debug("[Graph] Document already ingested", "document_id", documentID)
		return IngestStats{Status: IngestSkipped}, nil
	}

	// The edge validity window opens at the document date, fetched once per
	// document rather than per relation.
	var docDate time.Time
	if err := tx.QueryRow(ctx,
		`SELECT doc_date FROM documents WHERE id = $1`, documentID,
	).Scan(&docDate); err != nil {
		return IngestStats{}, fmt.Errorf("failed to load document date: %w", err)
	}

	extraction, err := LoadStaged(ctx, tx, documentID)
	if err != nil {
		return IngestStats{}, err
	}
	if len(extraction.Entities) == 0 {
		logger.Debug("[Graph] Document has no staged entities", "document_id", documentID)
		return p.finishEvent(ctx, tx, documentID, IngestStats{
			Status:     IngestCompleted,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	resolved, err := p.entities.ResolveBatch(ctx, tx, extraction.Entities)
	if err != nil {
		return IngestStats{}, err
	}

	idByName := make(map[string]int64, len(resolved))
	for i, res := range resolved {
		if res.ID == 0 {
			continue
		}
		ent := extraction.Entities[i]
		idByName[ent.Name] = res.ID

		tag, err := tx.Exec(ctx, `
			INSERT INTO document_entity_mentions
				(document_id, canonical_entity_id, mention_text, confidence, context)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id, canonical_entity_id, mention_text) DO NOTHING`,
			documentID, res.ID, ent.Name, ent.Confidence, ent.Context,
		)
		if err != nil {
			return IngestStats{}, fmt.Errorf("failed to record mention %q: %w", ent.Name, err)
		}
		// Only a new mention row bumps the count; forced re-runs must not
		// double-count.
		if tag.RowsAffected() == 0 {
			continue
		}
		_, err = tx.Exec(ctx, `
			UPDATE canonical_entities
			SET mention_count = mention_count + 1, last_seen_at = now()
			WHERE id = $1`,
			res.ID,
		)
		if err != nil {
			return IngestStats{}, fmt.Errorf("failed to bump mention count: %w", err)
		}
	}

	edges := 0
	for _, rel := range extraction.Relations {
		srcID, okSrc := idByName[rel.SourceName]
		tgtID, okTgt := idByName[rel.TargetName]
		if !okSrc || !okTgt || srcID == tgtID {
			continue
		}

		// Re-observing a live edge strengthens it instead of duplicating it:
		// weight accumulates and document_count records corroboration.
		_, err := tx.Exec(ctx, `
			INSERT INTO entity_relationships
				(source_entity_id, target_entity_id, relation_type, weight,
				 description, document_count, first_document_id, valid_from)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
			ON CONFLICT (source_entity_id, target_entity_id, relation_type)
				WHERE invalidated_at IS NULL
			DO UPDATE SET
				weight = entity_relationships.weight + EXCLUDED.weight,
				document_count = entity_relationships.document_count + 1,
				description = CASE
					WHEN length(EXCLUDED.description) > length(entity_relationships.description)
					THEN EXCLUDED.description
					ELSE entity_relationships.description
				END,
				last_seen_at = now()`,
			srcID, tgtID, rel.RelationType, rel.Strength, rel.Description,
			documentID, docDate,
		)
		if err != nil {
			return IngestStats{}, fmt.Errorf("failed to upsert edge %q->%q: %w",
				rel.SourceName, rel.TargetName, err)
		}
		edges++
	}

	stats := IngestStats{
		Status:     IngestCompleted,
		Entities:   len(idByName),
		Relations:  edges,
		DurationMs: time.Since(start).Milliseconds(),
	}
	logger.Debug("[Graph] Document ingested",
		"document_id", documentID,
		"entities", stats.Entities,
		"edges", stats.Relations)
	return p.finishEvent(ctx, tx, documentID, stats)
}

// finishEvent writes the run's outcome onto the claimed event row.
func (p *IngestionPipeline) finishEvent(ctx context.Context, tx pgx.Tx, documentID int64, stats IngestStats) (IngestStats, error) {
	_, err := tx.Exec(ctx, `
		UPDATE graph_ingestion_events
		SET status = $2, entity_count = $3, relation_count = $4, duration_ms = $5
		WHERE document_id = $1`,
		documentID, stats.Status, stats.Entities, stats.Relations, stats.DurationMs,
	)
	if err != nil {
		return IngestStats{}, fmt.Errorf("failed to finish ingestion event: %w", err)
	}
	return stats, nil
}

// InvalidateEdge soft-deletes a live edge so history survives while
// traversals stop seeing it. Closing valid_to ends the validity window.
func (p *IngestionPipeline) InvalidateEdge(ctx context.Context, edgeID int64) error {
	tag, err := p.conn.Exec(ctx, `
		UPDATE entity_relationships
		SET invalidated_at = now(), valid_to = now()::date
		WHERE id = $1 AND invalidated_at IS NULL`,
		edgeID,
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("live edge not found: %d", edgeID)
	}
	return nil
}
