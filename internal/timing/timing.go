// Package timing records per-phase processing latencies so operators can
// watch where pipeline time goes.
package timing

import (
	"context"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Phase names recorded into process_stats.
const (
	PhaseAgentQuery  = "agent_query"
	PhaseExtract     = "graph_extract"
	PhaseIngest      = "graph_ingest"
	PhaseIntentParse = "intent_parse"
)

// Record stores one completed phase. Amount is the number of items the phase
// covered (documents, tool calls); failures only log, a stats miss must
// never fail the work it measures.
func Record(ctx context.Context, conn *pgxpool.Pool, phase string, amount int, durationMs int64) {
	if conn == nil {
		return
	}
	_, err := conn.Exec(ctx, `
		INSERT INTO process_stats (phase, amount, duration_ms)
		VALUES ($1, $2, $3)`,
		phase, amount, durationMs,
	)
	if err != nil {
		logger.Debug("[Timing] Failed to record phase", "phase", phase, "err", err)
	}
}

// AverageMs returns the mean duration of the phase's recent runs, for rough
// capacity prediction. Zero when nothing has been recorded.
func AverageMs(ctx context.Context, conn *pgxpool.Pool, phase string, lastN int) (int64, error) {
	if lastN <= 0 {
		lastN = 50
	}
	var avg *float64
	err := conn.QueryRow(ctx, `
		SELECT avg(duration_ms)
		FROM (
			SELECT duration_ms
			FROM process_stats
			WHERE phase = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent`,
		phase, lastN,
	).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return int64(*avg), nil
}
