package graph

import (
	"context"
	"fmt"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
)

// Stage replaces the staged extraction of a document. Staging is the
// handoff point between the extraction worker and ingestion: extraction can
// be re-run freely, ingestion only ever sees the latest staged rows.
func Stage(ctx context.Context, conn entity.Conn, documentID int64, extraction Extraction) error {
	if _, err := conn.Exec(ctx,
		`DELETE FROM document_entities WHERE document_id = $1`, documentID,
	); err != nil {
		return fmt.Errorf("failed to clear staged entities: %w", err)
	}
	if _, err := conn.Exec(ctx,
		`DELETE FROM document_relations WHERE document_id = $1`, documentID,
	); err != nil {
		return fmt.Errorf("failed to clear staged relations: %w", err)
	}

	// Extraction output is model text; scrub it before it reaches Postgres.
	for _, ent := range extraction.Entities {
		_, err := conn.Exec(ctx, `
			INSERT INTO document_entities
				(document_id, name, entity_type, confidence, context)
			VALUES ($1, $2, $3, $4, $5)`,
			documentID, util.SanitizePostgresText(ent.Name), ent.Type,
			ent.Confidence, util.SanitizePostgresText(ent.Context),
		)
		if err != nil {
			return fmt.Errorf("failed to stage entity %q: %w", ent.Name, err)
		}
	}

	for _, rel := range extraction.Relations {
		_, err := conn.Exec(ctx, `
			INSERT INTO document_relations
				(document_id, source_name, target_name, relation_type, strength, description)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			documentID, util.SanitizePostgresText(rel.SourceName),
			util.SanitizePostgresText(rel.TargetName),
			rel.RelationType, rel.Strength,
			util.SanitizePostgresText(rel.Description),
		)
		if err != nil {
			return fmt.Errorf("failed to stage relation %q->%q: %w",
				rel.SourceName, rel.TargetName, err)
		}
	}

	logger.Debug("[Graph] Staged extraction",
		"document_id", documentID,
		"entities", len(extraction.Entities),
		"relations", len(extraction.Relations))
	return nil
}

// LoadStaged reads the staged extraction of one document.
func LoadStaged(ctx context.Context, conn entity.Conn, documentID int64) (Extraction, error) {
	var out Extraction

	rows, err := conn.Query(ctx, `
		SELECT name, entity_type, confidence, context
		FROM document_entities
		WHERE document_id = $1
		ORDER BY id`,
		documentID,
	)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to load staged entities: %w", err)
	}
	for rows.Next() {
		ent := common.ExtractedEntity{DocumentID: documentID}
		if err := rows.Scan(&ent.Name, &ent.Type, &ent.Confidence, &ent.Context); err != nil {
			rows.Close()
			return Extraction{}, err
		}
		out.Entities = append(out.Entities, ent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Extraction{}, err
	}

	rows, err = conn.Query(ctx, `
		SELECT source_name, target_name, relation_type, strength, description
		FROM document_relations
		WHERE document_id = $1
		ORDER BY id`,
		documentID,
	)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to load staged relations: %w", err)
	}
	for rows.Next() {
		rel := common.ExtractedRelation{DocumentID: documentID}
		if err := rows.Scan(&rel.SourceName, &rel.TargetName,
			&rel.RelationType, &rel.Strength, &rel.Description); err != nil {
			rows.Close()
			return Extraction{}, err
		}
		out.Relations = append(out.Relations, rel)
	}
	rows.Close()
	return out, rows.Err()
}

// PendingDocuments lists documents with staged rows but no completed
// ingestion event, oldest staging first. includeIngested widens the
// candidate set to every staged document, for forced re-ingestion.
func PendingDocuments(ctx context.Context, conn entity.Conn, limit int, includeIngested bool) ([]int64, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := conn.Query(ctx, `
		SELECT de.document_id, min(de.id) AS staged_order
		FROM document_entities de
		LEFT JOIN graph_ingestion_events ev
			ON ev.document_id = de.document_id AND ev.status = 'completed'
		WHERE ev.document_id IS NULL OR $2
		GROUP BY de.document_id
		ORDER BY staged_order
		LIMIT $1`,
		limit, includeIngested,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id, order int64
		if err := rows.Scan(&id, &order); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
