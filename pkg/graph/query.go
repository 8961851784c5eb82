package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxNeighborHops = 4
	maxPathHops     = 6

	defaultGraphLimit = 20
	maxGraphLimit     = 100
)

// QueryService answers graph read queries. Every operation consults the
// response cache first and falls back to computing against Postgres; cache
// failures are invisible to callers.
type QueryService struct {
	conn  *pgxpool.Pool
	cache *ResponseCache
}

// QueryServiceParams configures a QueryService. A nil cache disables
// memoization.
type QueryServiceParams struct {
	Conn  *pgxpool.Pool
	Cache *ResponseCache
}

func NewQueryService(params QueryServiceParams) *QueryService {
	return &QueryService{conn: params.Conn, cache: params.Cache}
}

// EntitySummary is the common shape of an entity in query responses.
type EntitySummary struct {
	ID           int64  `json:"id"`
	PublicID     string `json:"public_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	MentionCount int64  `json:"mention_count"`
}

// Neighbor is one entity reached by a bounded traversal, annotated with how
// it was reached.
type Neighbor struct {
	EntitySummary
	Depth        int     `json:"depth"`
	RelationType string  `json:"relation_type"`
	Weight       float64 `json:"weight"`
}

func clampHops(hops, max int) int {
	if hops <= 0 {
		return 1
	}
	if hops > max {
		return max
	}
	return hops
}

func clampGraphLimit(limit int) int {
	if limit <= 0 {
		return defaultGraphLimit
	}
	if limit > maxGraphLimit {
		return maxGraphLimit
	}
	return limit
}

// GetNeighbors walks live edges outward from an entity up to hops levels
// (clamped to 4) and returns each reachable entity once, at its shallowest
// depth. Edges are undirected for traversal.
func (s *QueryService) GetNeighbors(ctx context.Context, entityID int64, hops, limit int) ([]Neighbor, error) {
	hops = clampHops(hops, maxNeighborHops)
	limit = clampGraphLimit(limit)

	key := cacheKey(opNeighbors, entityID, hops, limit)
	var cached []Neighbor
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.conn.Query(ctx, `
		WITH RECURSIVE walk AS (
			SELECT
				CASE WHEN r.source_entity_id = $1
					THEN r.target_entity_id ELSE r.source_entity_id END AS entity_id,
				r.relation_type,
				r.weight,
				1 AS depth,
				ARRAY[$1::bigint,
					CASE WHEN r.source_entity_id = $1
						THEN r.target_entity_id ELSE r.source_entity_id END] AS path
			FROM entity_relationships r
			WHERE (r.source_entity_id = $1 OR r.target_entity_id = $1)
			  AND r.invalidated_at IS NULL
			UNION ALL
			SELECT
				CASE WHEN r.source_entity_id = w.entity_id
					THEN r.target_entity_id ELSE r.source_entity_id END,
				r.relation_type,
				r.weight,
				w.depth + 1,
				w.path || CASE WHEN r.source_entity_id = w.entity_id
					THEN r.target_entity_id ELSE r.source_entity_id END
			FROM entity_relationships r
			JOIN walk w
			  ON (r.source_entity_id = w.entity_id OR r.target_entity_id = w.entity_id)
			WHERE r.invalidated_at IS NULL
			  AND w.depth < $2
			  AND NOT (CASE WHEN r.source_entity_id = w.entity_id
					THEN r.target_entity_id ELSE r.source_entity_id END = ANY(w.path))
		)
		SELECT w.entity_id, c.public_id, c.canonical_name, c.entity_type,
		       c.mention_count, w.relation_type, w.weight, w.depth
		FROM (
			SELECT DISTINCT ON (entity_id)
				entity_id, relation_type, weight, depth
			FROM walk
			ORDER BY entity_id, depth, weight DESC
		) w
		JOIN canonical_entities c ON c.id = w.entity_id
		ORDER BY w.depth, w.weight DESC, c.mention_count DESC
		LIMIT $3`,
		entityID, hops, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	neighbors := make([]Neighbor, 0, limit)
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(
			&n.ID, &n.PublicID, &n.Name, &n.Type, &n.MentionCount,
			&n.RelationType, &n.Weight, &n.Depth,
		); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.set(ctx, opNeighbors, key, neighbors)
	return neighbors, nil
}

// FindShortestPath returns the entities along a shortest live-edge path
// between two entities, or an empty slice when none exists within maxHops
// (clamped to 6).
func (s *QueryService) FindShortestPath(ctx context.Context, fromID, toID int64, maxHops int) ([]EntitySummary, error) {
	if fromID == toID {
		return nil, fmt.Errorf("path endpoints are the same entity")
	}
	maxHops = clampHops(maxHops, maxPathHops)

	key := cacheKey(opPath, fromID, toID, maxHops)
	var cached []EntitySummary
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	var path []int64
	err := s.conn.QueryRow(ctx, `
		WITH RECURSIVE search AS (
			SELECT ARRAY[$1::bigint] AS path, $1::bigint AS entity_id, 0 AS depth
			UNION ALL
			SELECT s.path || nx.next_id, nx.next_id, s.depth + 1
			FROM search s
			JOIN entity_relationships r
			  ON (r.source_entity_id = s.entity_id OR r.target_entity_id = s.entity_id)
			 AND r.invalidated_at IS NULL
			CROSS JOIN LATERAL (
				SELECT CASE WHEN r.source_entity_id = s.entity_id
					THEN r.target_entity_id ELSE r.source_entity_id END AS next_id
			) nx
			WHERE s.depth < $3
			  AND s.entity_id <> $2
			  AND NOT (nx.next_id = ANY(s.path))
		)
		SELECT path
		FROM search
		WHERE entity_id = $2
		ORDER BY depth
		LIMIT 1`,
		fromID, toID, maxHops,
	).Scan(&path)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.cache.set(ctx, opPath, key, []EntitySummary{})
			return []EntitySummary{}, nil
		}
		return nil, fmt.Errorf("failed to search path: %w", err)
	}

	summaries, err := s.hydrateEntities(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, opPath, key, summaries)
	return summaries, nil
}

// hydrateEntities loads summaries for the given ids preserving order.
func (s *QueryService) hydrateEntities(ctx context.Context, ids []int64) ([]EntitySummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, public_id, canonical_name, entity_type, mention_count
		FROM canonical_entities
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate entities: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]EntitySummary, len(ids))
	for rows.Next() {
		var e EntitySummary
		if err := rows.Scan(&e.ID, &e.PublicID, &e.Name, &e.Type, &e.MentionCount); err != nil {
			return nil, err
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]EntitySummary, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// TimelineEntry is one document on an entity's timeline.
type TimelineEntry struct {
	DocumentID int64     `json:"document_id"`
	PublicID   string    `json:"public_id"`
	Subject    string    `json:"subject"`
	DocNumber  string    `json:"doc_number"`
	DocDate    time.Time `json:"doc_date"`
	Mentions   int       `json:"mentions"`
}

// GetEntityTimeline lists the documents mentioning an entity, newest first.
func (s *QueryService) GetEntityTimeline(ctx context.Context, entityID int64, limit int) ([]TimelineEntry, error) {
	limit = clampGraphLimit(limit)

	key := cacheKey(opTimeline, entityID, limit)
	var cached []TimelineEntry
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT d.id, d.public_id, d.subject, d.doc_number, d.doc_date, count(*)
		FROM document_entity_mentions m
		JOIN documents d ON d.id = m.document_id
		WHERE m.canonical_entity_id = $1
		GROUP BY d.id, d.public_id, d.subject, d.doc_number, d.doc_date
		ORDER BY d.doc_date DESC, d.id DESC
		LIMIT $2`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]TimelineEntry, 0, limit)
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.DocumentID, &e.PublicID, &e.Subject,
			&e.DocNumber, &e.DocDate, &e.Mentions); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.set(ctx, opTimeline, key, entries)
	return entries, nil
}

// GetTopEntities lists the most-mentioned entities, optionally filtered by
// type.
func (s *QueryService) GetTopEntities(ctx context.Context, entityType string, limit int) ([]EntitySummary, error) {
	limit = clampGraphLimit(limit)

	key := cacheKey(opTop, entityType, limit)
	var cached []EntitySummary
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, public_id, canonical_name, entity_type, mention_count
		FROM canonical_entities
		WHERE ($1 = '' OR entity_type = $1)
		ORDER BY mention_count DESC, id
		LIMIT $2`,
		entityType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top entities: %w", err)
	}
	defer rows.Close()

	out := make([]EntitySummary, 0, limit)
	for rows.Next() {
		var e EntitySummary
		if err := rows.Scan(&e.ID, &e.PublicID, &e.Name, &e.Type, &e.MentionCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.set(ctx, opTop, key, out)
	return out, nil
}

// SearchEntities matches entities by alias substring, most-mentioned first.
func (s *QueryService) SearchEntities(ctx context.Context, query string, limit int) ([]EntitySummary, error) {
	limit = clampGraphLimit(limit)
	if query == "" {
		return nil, nil
	}

	key := cacheKey(opSearch, query, limit)
	var cached []EntitySummary
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT ON (c.id)
			c.id, c.public_id, c.canonical_name, c.entity_type, c.mention_count
		FROM canonical_entities c
		JOIN entity_aliases a ON a.canonical_entity_id = c.id
		WHERE a.alias_name ILIKE $1
		ORDER BY c.id
		LIMIT $2`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	out := make([]EntitySummary, 0, limit)
	for rows.Next() {
		var e EntitySummary
		if err := rows.Scan(&e.ID, &e.PublicID, &e.Name, &e.Type, &e.MentionCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cache.set(ctx, opSearch, key, out)
	return out, nil
}

// Stats is the aggregate shape of the graph.
type Stats struct {
	EntityCount       int64            `json:"entity_count"`
	EntitiesByType    map[string]int64 `json:"entities_by_type"`
	EdgeCount         int64            `json:"edge_count"`
	MentionCount      int64            `json:"mention_count"`
	DocumentsIngested int64            `json:"documents_ingested"`
}

// GetStats aggregates graph-wide counters.
func (s *QueryService) GetStats(ctx context.Context) (Stats, error) {
	key := cacheKey(opStats)
	var cached Stats
	if s.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	stats := Stats{EntitiesByType: make(map[string]int64)}

	rows, err := s.conn.Query(ctx, `
		SELECT entity_type, count(*)
		FROM canonical_entities
		GROUP BY entity_type`,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count entities: %w", err)
	}
	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			rows.Close()
			return Stats{}, err
		}
		stats.EntitiesByType[typ] = count
		stats.EntityCount += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	err = s.conn.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM entity_relationships WHERE invalidated_at IS NULL),
			(SELECT count(*) FROM document_entity_mentions),
			(SELECT count(*) FROM graph_ingestion_events WHERE status = 'completed')`,
	).Scan(&stats.EdgeCount, &stats.MentionCount, &stats.DocumentsIngested)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count graph: %w", err)
	}

	s.cache.set(ctx, opStats, key, stats)
	return stats, nil
}

// Alias is one known name of a canonical entity.
type Alias struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Edge summarizes one live relationship from the perspective of an entity.
type Edge struct {
	EdgeID       int64         `json:"edge_id"`
	RelationType string        `json:"relation_type"`
	Weight       float64       `json:"weight"`
	Description  string        `json:"description"`
	Other        EntitySummary `json:"other"`
	Outgoing     bool          `json:"outgoing"`
}

// EntityDetail is the full hydrated view of one entity.
type EntityDetail struct {
	EntitySummary
	AliasCount      int             `json:"alias_count"`
	FirstSeenAt     time.Time       `json:"first_seen_at"`
	LastSeenAt      time.Time       `json:"last_seen_at"`
	Aliases         []Alias         `json:"aliases"`
	Edges           []Edge          `json:"edges"`
	RecentDocuments []TimelineEntry `json:"recent_documents"`
}

// GetEntityDetail hydrates one entity by public id: the entity row with its
// aliases, then its strongest live edges and latest documents.
func (s *QueryService) GetEntityDetail(ctx context.Context, publicID string) (*EntityDetail, error) {
	key := cacheKey(opDetail, publicID)
	var cached EntityDetail
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	var detail EntityDetail
	err := s.conn.QueryRow(ctx, `
		SELECT id, public_id, canonical_name, entity_type, mention_count,
		       alias_count, first_seen_at, last_seen_at
		FROM canonical_entities
		WHERE public_id = $1`,
		publicID,
	).Scan(
		&detail.ID, &detail.PublicID, &detail.Name, &detail.Type,
		&detail.MentionCount, &detail.AliasCount,
		&detail.FirstSeenAt, &detail.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT alias_name, confidence
		FROM entity_aliases
		WHERE canonical_entity_id = $1
		ORDER BY confidence DESC, alias_name`,
		detail.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.Name, &a.Confidence); err != nil {
			rows.Close()
			return nil, err
		}
		detail.Aliases = append(detail.Aliases, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.conn.Query(ctx, `
		SELECT r.id, r.relation_type, r.weight, r.description,
		       r.source_entity_id = $1 AS outgoing,
		       c.id, c.public_id, c.canonical_name, c.entity_type, c.mention_count
		FROM entity_relationships r
		JOIN canonical_entities c
		  ON c.id = CASE WHEN r.source_entity_id = $1
				THEN r.target_entity_id ELSE r.source_entity_id END
		WHERE (r.source_entity_id = $1 OR r.target_entity_id = $1)
		  AND r.invalidated_at IS NULL
		ORDER BY r.weight DESC
		LIMIT $2`,
		detail.ID, defaultGraphLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	for rows.Next() {
		var e Edge
		if err := rows.Scan(
			&e.EdgeID, &e.RelationType, &e.Weight, &e.Description, &e.Outgoing,
			&e.Other.ID, &e.Other.PublicID, &e.Other.Name, &e.Other.Type,
			&e.Other.MentionCount,
		); err != nil {
			rows.Close()
			return nil, err
		}
		detail.Edges = append(detail.Edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	detail.RecentDocuments, err = s.GetEntityTimeline(ctx, detail.ID, 10)
	if err != nil {
		logger.Debug("[Graph] Timeline hydration failed", "public_id", publicID, "error", err)
		detail.RecentDocuments = nil
	}

	s.cache.set(ctx, opDetail, key, detail)
	return &detail, nil
}
