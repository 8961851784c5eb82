package entity

import (
	"context"
	"strings"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
)

// sweepCandidateLimit caps how many entities of one type a sweep considers.
// The most-mentioned entities are also the ones duplicates hurt most.
const sweepCandidateLimit = ai.DedupeBatchSize

type sweepCandidate struct {
	id           int64
	name         string
	mentionCount int64
}

// DedupeSweep asks the model for duplicate canonical entities of each type
// and merges every confirmed group into its most-mentioned member. The sweep
// is advisory: a failed type is logged and skipped, and the return value
// counts completed merges.
func (s *Service) DedupeSweep(ctx context.Context, client ai.Client, maxRetries int) (int, error) {
	merged := 0
	for _, entityType := range common.EntityTypes {
		n, err := s.sweepType(ctx, client, entityType, maxRetries)
		if err != nil {
			logger.Warn("[Entity] Dedupe sweep failed for type",
				"type", entityType, "error", err)
			continue
		}
		merged += n
	}
	logger.Info("[Entity] Dedupe sweep finished", "merged", merged)
	return merged, nil
}

func (s *Service) sweepType(ctx context.Context, client ai.Client, entityType string, maxRetries int) (int, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, canonical_name, mention_count
		FROM canonical_entities
		WHERE entity_type = $1
		ORDER BY mention_count DESC, id
		LIMIT $2`,
		entityType, sweepCandidateLimit,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var candidates []sweepCandidate
	for rows.Next() {
		var c sweepCandidate
		if err := rows.Scan(&c.id, &c.name, &c.mentionCount); err != nil {
			return 0, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(candidates) < 2 {
		return 0, nil
	}

	dedupeInput := make([]ai.DedupeCandidate, len(candidates))
	byKey := make(map[string]sweepCandidate, len(candidates))
	for i, c := range candidates {
		dedupeInput[i] = ai.DedupeCandidate{Name: c.name, Type: entityType}
		byKey[sweepKey(c.name)] = c
	}

	res, err := ai.CallDedupeAI(ctx, dedupeInput, client, maxRetries)
	if err != nil {
		return 0, err
	}

	merged := 0
	consumed := make(map[int64]bool)
	for _, group := range res.Duplicates {
		members := make([]sweepCandidate, 0, len(group.Entities))
		for _, name := range group.Entities {
			c, ok := byKey[sweepKey(name)]
			if !ok || consumed[c.id] {
				continue
			}
			members = append(members, c)
		}
		if len(members) < 2 {
			continue
		}

		winner := members[0]
		for _, m := range members[1:] {
			if m.mentionCount > winner.mentionCount {
				winner = m
			}
		}
		for _, m := range members {
			if m.id == winner.id {
				consumed[m.id] = true
				continue
			}
			if _, err := s.Merge(ctx, winner.id, m.id); err != nil {
				logger.Warn("[Entity] Sweep merge failed",
					"winner", winner.name, "loser", m.name, "error", err)
				continue
			}
			consumed[m.id] = true
			merged++
		}
	}
	return merged, nil
}

func sweepKey(name string) string {
	return strings.ToUpper(ai.NormalizeDedupeValue(name))
}
