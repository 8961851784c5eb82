package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scriptTx answers the ingestion pipeline's statements from canned data and
// records everything it executes. Unused pgx.Tx methods panic via the
// embedded nil interface.
type scriptTx struct {
	pgx.Tx

	eventExists   bool
	mentionExists bool
	docDate       time.Time
	entities      []common.ExtractedEntity
	relations     []common.ExtractedRelation

	execs []scriptedExec
}

type scriptedExec struct {
	sql  string
	args []any
}

func (s *scriptTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, scriptedExec{sql: sql, args: args})
	switch {
	case strings.Contains(sql, "INSERT INTO graph_ingestion_events"):
		if s.eventExists {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		s.eventExists = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM graph_ingestion_events"):
		s.eventExists = false
		return pgconn.NewCommandTag("DELETE 1"), nil
	case strings.Contains(sql, "INSERT INTO document_entity_mentions"):
		if s.mentionExists {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
}

func (s *scriptTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return docDateRow{date: s.docDate}
}

func (s *scriptTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "FROM document_entities") {
		rows := make([][]any, 0, len(s.entities))
		for _, e := range s.entities {
			rows = append(rows, []any{e.Name, e.Type, e.Confidence, e.Context})
		}
		return &scriptRows{rows: rows}, nil
	}
	rows := make([][]any, 0, len(s.relations))
	for _, r := range s.relations {
		rows = append(rows, []any{r.SourceName, r.TargetName, r.RelationType, r.Strength, r.Description})
	}
	return &scriptRows{rows: rows}, nil
}

type docDateRow struct{ date time.Time }

func (r docDateRow) Scan(dest ...any) error {
	*(dest[0].(*time.Time)) = r.date
	return nil
}

type scriptRows struct {
	pgx.Rows

	rows [][]any
	idx  int
}

func (r *scriptRows) Close()     {}
func (r *scriptRows) Err() error { return nil }

func (r *scriptRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *scriptRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *float64:
			*v = row[i].(float64)
		}
	}
	return nil
}

// mapResolver resolves mentions from a fixed name-to-id table.
type mapResolver struct{ ids map[string]int64 }

func (m *mapResolver) ResolveBatch(ctx context.Context, conn entity.Conn, mentions []common.ExtractedEntity) ([]entity.Resolved, error) {
	out := make([]entity.Resolved, len(mentions))
	for i, mention := range mentions {
		out[i] = entity.Resolved{ID: m.ids[mention.Name], CanonicalName: mention.Name}
	}
	return out, nil
}

func (s *scriptTx) find(fragment string) *scriptedExec {
	for i := range s.execs {
		if strings.Contains(s.execs[i].sql, fragment) {
			return &s.execs[i]
		}
	}
	return nil
}

func TestIngestRecordsEdgeProvenance(t *testing.T) {
	docDate := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	tx := &scriptTx{
		docDate: docDate,
		entities: []common.ExtractedEntity{
			{Name: "工務局", Type: "org", Confidence: 0.9},
			{Name: "中壢區", Type: "location", Confidence: 0.8},
		},
		relations: []common.ExtractedRelation{
			{SourceName: "工務局", TargetName: "中壢區", RelationType: "位於", Strength: 0.8},
		},
	}
	p := NewIngestionPipeline(IngestionParams{
		Entities: &mapResolver{ids: map[string]int64{"工務局": 1, "中壢區": 2}},
	})

	stats, err := p.ingestInTx(context.Background(), tx, 42, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Status != IngestCompleted {
		t.Fatalf("status = %q, want %q", stats.Status, IngestCompleted)
	}
	if stats.Entities != 2 || stats.Relations != 1 {
		t.Errorf("stats = %+v, want 2 entities and 1 relation", stats)
	}

	edge := tx.find("INSERT INTO entity_relationships")
	if edge == nil {
		t.Fatal("no edge upsert executed")
	}
	if !strings.Contains(edge.sql, "document_count = entity_relationships.document_count + 1") {
		t.Error("re-observed edge must increment document_count, not just weight")
	}
	if got := edge.args[5].(int64); got != 42 {
		t.Errorf("first_document_id bound to %v, want the ingesting document", got)
	}
	if got := edge.args[6].(time.Time); !got.Equal(docDate) {
		t.Errorf("valid_from bound to %v, want the document date %v", got, docDate)
	}

	finish := tx.find("UPDATE graph_ingestion_events")
	if finish == nil {
		t.Fatal("event row never finished")
	}
	if finish.args[1].(string) != IngestCompleted {
		t.Errorf("event status = %v, want %q", finish.args[1], IngestCompleted)
	}
	if finish.args[2].(int) != 2 || finish.args[3].(int) != 1 {
		t.Errorf("event stats = %v/%v, want 2 entities and 1 relation", finish.args[2], finish.args[3])
	}
}

func TestIngestSkipsExistingEvent(t *testing.T) {
	tx := &scriptTx{
		eventExists: true,
		entities:    []common.ExtractedEntity{{Name: "工務局", Type: "org"}},
	}
	p := NewIngestionPipeline(IngestionParams{
		Entities: &mapResolver{ids: map[string]int64{"工務局": 1}},
	})

	stats, err := p.ingestInTx(context.Background(), tx, 42, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Status != IngestSkipped {
		t.Fatalf("status = %q, want %q", stats.Status, IngestSkipped)
	}
	if tx.find("entity_relationships") != nil || tx.find("document_entity_mentions") != nil {
		t.Error("skipped ingestion still wrote graph rows")
	}
}

func TestIngestForceSupersedesPriorEvent(t *testing.T) {
	tx := &scriptTx{
		eventExists:   true,
		mentionExists: true,
		docDate:       time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		entities:      []common.ExtractedEntity{{Name: "工務局", Type: "org", Confidence: 0.9}},
	}
	p := NewIngestionPipeline(IngestionParams{
		Entities: &mapResolver{ids: map[string]int64{"工務局": 1}},
	})

	stats, err := p.ingestInTx(context.Background(), tx, 42, true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Status != IngestCompleted {
		t.Fatalf("forced re-ingestion status = %q, want %q", stats.Status, IngestCompleted)
	}
	if tx.find("DELETE FROM graph_ingestion_events") == nil {
		t.Error("force must supersede the prior event row")
	}
	// The mention row already existed, so the re-run must not double-count.
	if tx.find("mention_count = mention_count + 1") != nil {
		t.Error("forced re-run bumped mention_count for an existing mention")
	}
}
