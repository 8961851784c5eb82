package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5"
)

// MergeResult summarizes a completed merge.
type MergeResult struct {
	WinnerID      int64  `json:"winner_id"`
	WinnerName    string `json:"winner_name"`
	MovedAliases  int64  `json:"moved_aliases"`
	MovedMentions int64  `json:"moved_mentions"`
	MovedEdges    int64  `json:"moved_edges"`
}

// Merge folds the loser canonical entity into the winner in one transaction:
// aliases, mentions, and relationship endpoints move to the winner, edge
// weights between the same endpoints are summed, and the loser row is
// deleted. Merging an entity into itself or across types is rejected.
func (s *Service) Merge(ctx context.Context, winnerID, loserID int64) (MergeResult, error) {
	if winnerID == loserID {
		return MergeResult{}, fmt.Errorf("cannot merge an entity into itself")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	defer tx.Rollback(ctx)

	// Lock both rows in id order so concurrent merges cannot deadlock.
	rows, err := tx.Query(ctx, `
		SELECT id, canonical_name, entity_type, mention_count
		FROM canonical_entities
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`,
		[]int64{winnerID, loserID},
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to lock entities: %w", err)
	}
	type lockedRow struct {
		id           int64
		name         string
		entityType   string
		mentionCount int64
	}
	locked := make(map[int64]lockedRow, 2)
	for rows.Next() {
		var r lockedRow
		if err := rows.Scan(&r.id, &r.name, &r.entityType, &r.mentionCount); err != nil {
			rows.Close()
			return MergeResult{}, err
		}
		locked[r.id] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return MergeResult{}, err
	}

	winner, ok := locked[winnerID]
	if !ok {
		return MergeResult{}, fmt.Errorf("winner entity not found: %d", winnerID)
	}
	loser, ok := locked[loserID]
	if !ok {
		return MergeResult{}, fmt.Errorf("loser entity not found: %d", loserID)
	}
	if winner.entityType != loser.entityType {
		return MergeResult{}, fmt.Errorf("cannot merge %s entity into %s entity",
			loser.entityType, winner.entityType)
	}

	result := MergeResult{WinnerID: winnerID, WinnerName: winner.name}

	// Aliases the winner already has stay where they are.
	_, err = tx.Exec(ctx, `
		DELETE FROM entity_aliases
		WHERE canonical_entity_id = $2
		  AND alias_name IN (
			SELECT alias_name FROM entity_aliases WHERE canonical_entity_id = $1
		  )`,
		winnerID, loserID,
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to drop colliding aliases: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE entity_aliases SET canonical_entity_id = $1
		WHERE canonical_entity_id = $2`,
		winnerID, loserID,
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to move aliases: %w", err)
	}
	result.MovedAliases = tag.RowsAffected()

	// The loser's name survives as an alias of the winner.
	_, err = tx.Exec(ctx, `
		INSERT INTO entity_aliases (canonical_entity_id, alias_name, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (alias_name, canonical_entity_id) DO NOTHING`,
		winnerID, loser.name, fuzzyAliasConfidence,
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to preserve loser name: %w", err)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE document_entity_mentions SET canonical_entity_id = $1
		WHERE canonical_entity_id = $2`,
		winnerID, loserID,
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to move mentions: %w", err)
	}
	result.MovedMentions = tag.RowsAffected()

	moved, err := mergeRelationships(ctx, tx, winnerID, loserID)
	if err != nil {
		return MergeResult{}, err
	}
	result.MovedEdges = moved

	_, err = tx.Exec(ctx, `
		UPDATE canonical_entities
		SET mention_count = mention_count + $3,
		    first_seen_at = LEAST(
				first_seen_at,
				(SELECT first_seen_at FROM canonical_entities WHERE id = $2)
		    ),
		    alias_count = (
				SELECT count(*) FROM entity_aliases WHERE canonical_entity_id = $1
		    )
		WHERE id = $1`,
		winnerID, loserID, loser.mentionCount,
	)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to fold counters: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM canonical_entities WHERE id = $1`, loserID); err != nil {
		return MergeResult{}, fmt.Errorf("failed to delete merged entity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return MergeResult{}, err
	}

	logger.Info("[Entity] Merged entities",
		"winner", winner.name, "loser", loser.name,
		"aliases", result.MovedAliases, "mentions", result.MovedMentions, "edges", result.MovedEdges)
	return result, nil
}

// mergeRelationships repoints the loser's graph edges at the winner. Edges
// between the pair become self loops and are dropped; a loser edge whose
// endpoints and type collide with a live winner edge folds its weight into
// the survivor instead of moving.
func mergeRelationships(ctx context.Context, tx pgx.Tx, winnerID, loserID int64) (int64, error) {
	_, err := tx.Exec(ctx, `
		DELETE FROM entity_relationships
		WHERE (source_entity_id = $1 AND target_entity_id = $2)
		   OR (source_entity_id = $2 AND target_entity_id = $1)`,
		winnerID, loserID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to drop pair edges: %w", err)
	}

	type redirect struct {
		endpoint string
	}
	var moved int64
	for _, r := range []redirect{{"source_entity_id"}, {"target_entity_id"}} {
		other := "target_entity_id"
		if r.endpoint == "target_entity_id" {
			other = "source_entity_id"
		}

		// Fold colliding live edges into the winner's copy, then drop them.
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE entity_relationships w
			SET weight = w.weight + l.weight
			FROM entity_relationships l
			WHERE w.%[1]s = $1 AND l.%[1]s = $2
			  AND w.%[2]s = l.%[2]s
			  AND w.relation_type = l.relation_type
			  AND w.invalidated_at IS NULL AND l.invalidated_at IS NULL`,
			r.endpoint, other),
			winnerID, loserID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to fold edge weights: %w", err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			DELETE FROM entity_relationships l
			USING entity_relationships w
			WHERE l.%[1]s = $2 AND w.%[1]s = $1
			  AND l.%[2]s = w.%[2]s
			  AND l.relation_type = w.relation_type
			  AND l.invalidated_at IS NULL AND w.invalidated_at IS NULL`,
			r.endpoint, other),
			winnerID, loserID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to drop folded edges: %w", err)
		}

		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE entity_relationships SET %s = $1 WHERE %s = $2`,
			r.endpoint, r.endpoint),
			winnerID, loserID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to move edges: %w", err)
		}
		moved += tag.RowsAffected()
	}
	return moved, nil
}

// FindByPublicID resolves an entity's internal id from its public id.
func (s *Service) FindByPublicID(ctx context.Context, publicID string) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx,
		`SELECT id FROM canonical_entities WHERE public_id = $1`, publicID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("entity not found: %s", publicID)
		}
		return 0, err
	}
	return id, nil
}
