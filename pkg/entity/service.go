// Package entity resolves extracted entity mentions onto canonical graph
// nodes. Resolution runs exact alias lookup first, then trigram fuzzy match,
// and only creates a new canonical entity when both miss, so the graph grows
// one node per real-world thing instead of one per spelling.
package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultFuzzyThreshold = 0.75

	// fuzzyAliasConfidence is recorded on aliases learned through trigram
	// matching, below the 1.0 of a self alias.
	fuzzyAliasConfidence = 0.8
)

// Conn is the subset of pgxpool.Pool / pgx.Tx resolution runs against, so
// ingestion can resolve inside its own transaction.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MatchKind reports which resolution layer produced an entity.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchCreated MatchKind = "created"
)

// Resolved is the outcome of resolving one mention.
type Resolved struct {
	ID            int64
	CanonicalName string
	Match         MatchKind
}

// Service is the canonical entity resolver.
type Service struct {
	conn *pgxpool.Pool

	fuzzyThreshold float64

	// trigramMissing flips when the database lacks pg_trgm; the fuzzy layer
	// is then skipped for the life of the process.
	trigramMissing atomic.Bool
}

// Params configures a Service. A zero threshold selects the default.
type Params struct {
	Conn           *pgxpool.Pool
	FuzzyThreshold float64
}

func NewService(params Params) *Service {
	if params.FuzzyThreshold <= 0 || params.FuzzyThreshold > 1 {
		params.FuzzyThreshold = defaultFuzzyThreshold
	}
	return &Service{
		conn:           params.Conn,
		fuzzyThreshold: params.FuzzyThreshold,
	}
}

// Resolve maps one mention onto a canonical entity, creating it when nothing
// matches. The given Conn may be a transaction.
func (s *Service) Resolve(ctx context.Context, conn Conn, name, entityType string) (Resolved, error) {
	name = normalizeName(name)
	if name == "" {
		return Resolved{}, fmt.Errorf("entity name is empty")
	}
	if !common.IsKnownEntityType(entityType) {
		return Resolved{}, fmt.Errorf("unknown entity type: %s", entityType)
	}

	if res, ok, err := s.exactMatch(ctx, conn, name, entityType); err != nil {
		return Resolved{}, err
	} else if ok {
		return res, nil
	}

	if res, ok, err := s.fuzzyMatch(ctx, conn, name, entityType); err != nil {
		return Resolved{}, err
	} else if ok {
		return res, nil
	}

	return s.create(ctx, conn, name, entityType)
}

// ResolveBatch resolves a batch of mentions in three passes: one query for
// all exact hits, per-residue fuzzy matches, and one bulk insert for
// everything still unmatched. Results keep the input order; invalid mentions
// come back as zero Resolved values rather than failing the batch.
func (s *Service) ResolveBatch(ctx context.Context, conn Conn, mentions []common.ExtractedEntity) ([]Resolved, error) {
	results := make([]Resolved, len(mentions))

	type pending struct {
		index int
		name  string
		typ   string
	}
	byType := make(map[string][]pending)
	for i, m := range mentions {
		name := normalizeName(m.Name)
		if name == "" || !common.IsKnownEntityType(m.Type) {
			logger.Debug("[Entity] Skipping unresolvable mention", "name", m.Name, "type", m.Type)
			continue
		}
		byType[m.Type] = append(byType[m.Type], pending{index: i, name: name, typ: m.Type})
	}

	for entityType, group := range byType {
		names := make([]string, 0, len(group))
		for _, p := range group {
			names = append(names, p.name)
		}

		exact, err := s.exactMatchBatch(ctx, conn, names, entityType)
		if err != nil {
			return nil, err
		}

		var unmatched []pending
		for _, p := range group {
			if res, ok := exact[p.name]; ok {
				results[p.index] = res
				continue
			}
			unmatched = append(unmatched, p)
		}

		var toCreate []pending
		for _, p := range unmatched {
			res, ok, err := s.fuzzyMatch(ctx, conn, p.name, p.typ)
			if err != nil {
				return nil, err
			}
			if ok {
				results[p.index] = res
				continue
			}
			toCreate = append(toCreate, p)
		}

		if len(toCreate) == 0 {
			continue
		}
		createNames := make([]string, 0, len(toCreate))
		for _, p := range toCreate {
			createNames = append(createNames, p.name)
		}
		created, err := s.createBatch(ctx, conn, createNames, entityType)
		if err != nil {
			return nil, err
		}
		for _, p := range toCreate {
			results[p.index] = created[p.name]
		}
	}

	return results, nil
}

func (s *Service) exactMatch(ctx context.Context, conn Conn, name, entityType string) (Resolved, bool, error) {
	var res Resolved
	err := conn.QueryRow(ctx, `
		SELECT c.id, c.canonical_name
		FROM entity_aliases a
		JOIN canonical_entities c ON c.id = a.canonical_entity_id
		WHERE a.alias_name = $1 AND c.entity_type = $2
		ORDER BY a.confidence DESC
		LIMIT 1`,
		name, entityType,
	).Scan(&res.ID, &res.CanonicalName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolved{}, false, nil
		}
		return Resolved{}, false, fmt.Errorf("failed to match alias: %w", err)
	}
	res.Match = MatchExact
	return res, true, nil
}

func (s *Service) exactMatchBatch(ctx context.Context, conn Conn, names []string, entityType string) (map[string]Resolved, error) {
	rows, err := conn.Query(ctx, `
		SELECT DISTINCT ON (a.alias_name) a.alias_name, c.id, c.canonical_name
		FROM entity_aliases a
		JOIN canonical_entities c ON c.id = a.canonical_entity_id
		WHERE a.alias_name = ANY($1) AND c.entity_type = $2
		ORDER BY a.alias_name, a.confidence DESC`,
		names, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to batch match aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Resolved)
	for rows.Next() {
		var (
			alias string
			res   Resolved
		)
		if err := rows.Scan(&alias, &res.ID, &res.CanonicalName); err != nil {
			return nil, fmt.Errorf("failed to scan alias row: %w", err)
		}
		res.Match = MatchExact
		out[alias] = res
	}
	return out, rows.Err()
}

// fuzzyMatch finds the closest canonical name by trigram similarity. A
// successful match records the mention as a new alias so the next lookup is
// exact. Databases without pg_trgm silently lose this layer.
func (s *Service) fuzzyMatch(ctx context.Context, conn Conn, name, entityType string) (Resolved, bool, error) {
	if s.trigramMissing.Load() {
		return Resolved{}, false, nil
	}

	var (
		res        Resolved
		similarity float64
	)
	err := conn.QueryRow(ctx, `
		SELECT id, canonical_name, similarity(canonical_name, $1) AS sim
		FROM canonical_entities
		WHERE entity_type = $2
		  AND similarity(canonical_name, $1) >= $3
		ORDER BY sim DESC
		LIMIT 1`,
		name, entityType, s.fuzzyThreshold,
	).Scan(&res.ID, &res.CanonicalName, &similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolved{}, false, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42883" {
			if !s.trigramMissing.Swap(true) {
				logger.Debug("[Entity] pg_trgm unavailable, fuzzy matching disabled")
			}
			return Resolved{}, false, nil
		}
		return Resolved{}, false, fmt.Errorf("failed to fuzzy match entity: %w", err)
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO entity_aliases (canonical_entity_id, alias_name, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (alias_name, canonical_entity_id) DO NOTHING`,
		res.ID, name, fuzzyAliasConfidence,
	)
	if err != nil {
		return Resolved{}, false, fmt.Errorf("failed to record learned alias: %w", err)
	}
	s.bumpAliasCount(ctx, conn, res.ID)

	logger.Debug("[Entity] Fuzzy matched mention",
		"mention", name, "canonical", res.CanonicalName, "similarity", similarity)
	res.Match = MatchFuzzy
	return res, true, nil
}

func (s *Service) create(ctx context.Context, conn Conn, name, entityType string) (Resolved, error) {
	publicID, err := gonanoid.New()
	if err != nil {
		return Resolved{}, err
	}

	var res Resolved
	// The conflict target absorbs a concurrent create of the same name.
	err = conn.QueryRow(ctx, `
		INSERT INTO canonical_entities (public_id, canonical_name, entity_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (canonical_name, entity_type)
			DO UPDATE SET entity_type = EXCLUDED.entity_type
		RETURNING id, canonical_name`,
		publicID, name, entityType,
	).Scan(&res.ID, &res.CanonicalName)
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to create canonical entity: %w", err)
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO entity_aliases (canonical_entity_id, alias_name, confidence)
		VALUES ($1, $2, 1.0)
		ON CONFLICT (alias_name, canonical_entity_id) DO NOTHING`,
		res.ID, name,
	)
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to create self alias: %w", err)
	}
	s.bumpAliasCount(ctx, conn, res.ID)

	res.Match = MatchCreated
	return res, nil
}

func (s *Service) createBatch(ctx context.Context, conn Conn, names []string, entityType string) (map[string]Resolved, error) {
	names = dedupeNames(names)
	publicIDs := make([]string, len(names))
	for i := range names {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		publicIDs[i] = id
	}

	rows, err := conn.Query(ctx, `
		INSERT INTO canonical_entities (public_id, canonical_name, entity_type)
		SELECT pid, name, $3
		FROM unnest($1::text[], $2::text[]) AS input(pid, name)
		ON CONFLICT (canonical_name, entity_type)
			DO UPDATE SET entity_type = EXCLUDED.entity_type
		RETURNING id, canonical_name`,
		publicIDs, names, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk create canonical entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Resolved, len(names))
	ids := make([]int64, 0, len(names))
	aliasNames := make([]string, 0, len(names))
	for rows.Next() {
		var res Resolved
		if err := rows.Scan(&res.ID, &res.CanonicalName); err != nil {
			return nil, fmt.Errorf("failed to scan created entity row: %w", err)
		}
		res.Match = MatchCreated
		out[res.CanonicalName] = res
		ids = append(ids, res.ID)
		aliasNames = append(aliasNames, res.CanonicalName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	_, err = conn.Exec(ctx, `
		INSERT INTO entity_aliases (canonical_entity_id, alias_name, confidence)
		SELECT eid, name, 1.0
		FROM unnest($1::bigint[], $2::text[]) AS input(eid, name)
		ON CONFLICT (alias_name, canonical_entity_id) DO NOTHING`,
		ids, aliasNames,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk create self aliases: %w", err)
	}
	for _, id := range ids {
		s.bumpAliasCount(ctx, conn, id)
	}
	return out, nil
}

// bumpAliasCount recomputes the denormalized alias_count from the alias
// table. Best effort; the count is advisory.
func (s *Service) bumpAliasCount(ctx context.Context, conn Conn, entityID int64) {
	_, err := conn.Exec(ctx, `
		UPDATE canonical_entities
		SET alias_count = (SELECT count(*) FROM entity_aliases WHERE canonical_entity_id = $1)
		WHERE id = $1`,
		entityID,
	)
	if err != nil {
		logger.Debug("[Entity] alias_count refresh failed", "entity_id", entityID, "error", err)
	}
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(name)), " ")
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
