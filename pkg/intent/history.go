package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"
)

// minReuseConfidence filters history rows whose stored parse was too weak
// to be worth reusing for a new query.
const minReuseConfidence = 0.5

// Record is one stored search with its parsed intent. Similarity is only
// populated by FindSimilar.
type Record struct {
	ID          string       `json:"id"`
	Query       string       `json:"query"`
	Intent      ParsedIntent `json:"intent"`
	Confidence  float64      `json:"confidence"`
	ResultCount int          `json:"result_count"`
	Strategy    string       `json:"strategy"`
	Feedback    int          `json:"feedback"`
	CreatedAt   time.Time    `json:"created_at"`
	Similarity  float64      `json:"similarity,omitempty"`
}

// HistoryStore persists parsed searches so later queries can reuse the
// intent of a similar earlier one.
type HistoryStore struct {
	conn *pgxpool.Pool
}

func NewHistoryStore(conn *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// Save stores a completed search. The embedding may be empty when the
// embedding provider was unavailable; the row is then invisible to
// FindSimilar but still listed by GetRecent.
func (s *HistoryStore) Save(
	ctx context.Context,
	query string,
	parsed ParsedIntent,
	embedding []float32,
	resultCount int,
	strategy string,
) (string, error) {
	publicID, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	intentJSON, err := json.Marshal(parsed)
	if err != nil {
		return "", fmt.Errorf("failed to encode intent: %w", err)
	}

	var embed *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		embed = &v
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO ai_search_history
			(public_id, query, intent, confidence, result_count, strategy, query_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		publicID, query, intentJSON, parsed.Confidence, resultCount, strategy, embed,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save search history: %w", err)
	}

	logger.Debug("[Intent] Saved search history",
		"public_id", publicID,
		"confidence", parsed.Confidence,
		"results", resultCount,
		"strategy", strategy,
	)
	return publicID, nil
}

// FindSimilar returns recent successful searches ordered by feedback, then
// by cosine distance to the query embedding. Rows without an embedding or
// below the reuse confidence never match.
func (s *HistoryStore) FindSimilar(
	ctx context.Context,
	embedding []float32,
	days, limit int,
) ([]Record, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if days <= 0 {
		days = defaultHistoryDays
	}
	if limit <= 0 {
		limit = vectorCandidates
	}

	rows, err := s.conn.Query(ctx, `
		SELECT
			public_id, query, intent, confidence, result_count, strategy,
			feedback, created_at,
			1 - (query_embedding <=> $1) AS similarity
		FROM ai_search_history
		WHERE query_embedding IS NOT NULL
		  AND confidence >= $2
		  AND created_at > now() - make_interval(days => $3)
		ORDER BY feedback DESC, query_embedding <=> $1 ASC
		LIMIT $4`,
		pgvector.NewVector(embedding), minReuseConfidence, days, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, true)
}

// GetRecent lists the latest stored searches, newest first.
func (s *HistoryStore) GetRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.conn.Query(ctx, `
		SELECT
			public_id, query, intent, confidence, result_count, strategy,
			feedback, created_at
		FROM ai_search_history
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, false)
}

// UpdateFeedback applies a vote to a stored search. Positive feedback pulls
// the row forward in FindSimilar ordering, negative pushes it back.
func (s *HistoryStore) UpdateFeedback(ctx context.Context, publicID string, delta int) error {
	if delta > 1 {
		delta = 1
	}
	if delta < -1 {
		delta = -1
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE ai_search_history
		SET feedback = feedback + $2
		WHERE public_id = $1`,
		publicID, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("search history entry not found: %s", publicID)
	}
	return nil
}

type recordRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows recordRows, withSimilarity bool) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec        Record
			intentJSON []byte
		)
		dest := []any{
			&rec.ID, &rec.Query, &intentJSON, &rec.Confidence,
			&rec.ResultCount, &rec.Strategy, &rec.Feedback, &rec.CreatedAt,
		}
		if withSimilarity {
			dest = append(dest, &rec.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan search history row: %w", err)
		}
		if err := json.Unmarshal(intentJSON, &rec.Intent); err != nil {
			logger.Warn("[Intent] Skipping history row with bad intent payload",
				"public_id", rec.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
