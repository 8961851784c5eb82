package docsearch

import (
	"context"
	"strings"
	"testing"

	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
)

func TestQueryBindsUserInputAsParameters(t *testing.T) {
	malicious := "'; DROP TABLE documents; --"
	sql, args := NewQuery().
		WithKeywordsFull([]string{malicious}).
		WithSender(malicious).
		WithLimitOffset(10, 0).
		SQL()

	if strings.Contains(sql, "DROP TABLE") {
		t.Fatalf("user input leaked into SQL text:\n%s", sql)
	}

	found := 0
	for _, arg := range args {
		if s, ok := arg.(string); ok && strings.Contains(s, "DROP TABLE") {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected keyword and sender bound as args, found %d of 2", found)
	}
}

func TestQueryPlaceholderNumbering(t *testing.T) {
	sql, args := NewQuery().
		WithKeywordsFull([]string{"橋梁", "巡檢"}).
		WithDateRange("2025-01-01", "2025-06-30").
		WithDocType("函").
		WithLimitOffset(25, 50).
		SQL()

	// 2 keywords + 2 dates + doc_type + limit + offset
	if len(args) != 7 {
		t.Fatalf("expected 7 bound args, got %d: %v", len(args), args)
	}
	for i := 1; i <= len(args); i++ {
		placeholder := "$" + string(rune('0'+i))
		if !strings.Contains(sql, placeholder) {
			t.Errorf("missing placeholder %s in:\n%s", placeholder, sql)
		}
	}
	if args[len(args)-2] != 25 || args[len(args)-1] != 50 {
		t.Errorf("limit/offset must be the final args, got %v", args[len(args)-2:])
	}
}

func TestQueryLimitClamping(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{"defaults on zero", 0, 0, defaultLimit, 0},
		{"negative offset floors", 10, -5, 10, 0},
		{"oversized limit clamps", 5000, 0, maxLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, args := NewQuery().WithLimitOffset(tt.limit, tt.offset).SQL()
			gotLimit := args[len(args)-2].(int)
			gotOffset := args[len(args)-1].(int)
			if gotLimit != tt.wantLimit || gotOffset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					gotLimit, gotOffset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestQueryOrdering(t *testing.T) {
	sql, _ := NewQuery().WithKeywordsFull([]string{"工程"}).WithRelevanceOrder().SQL()
	if !strings.Contains(sql, "ORDER BY score DESC") {
		t.Errorf("relevance order missing from:\n%s", sql)
	}

	sql, _ = NewQuery().SQL()
	if !strings.Contains(sql, "ORDER BY doc_date DESC") {
		t.Errorf("default recency order missing from:\n%s", sql)
	}
	if !strings.Contains(sql, "0::float AS score") {
		t.Errorf("unscored query should carry a zero score column:\n%s", sql)
	}
}

func TestQuerySkipsEmptyFilters(t *testing.T) {
	sql, args := NewQuery().
		WithKeywordsFull([]string{" ", ""}).
		WithSender("").
		WithDocType("").
		WithDateRange("", "").
		SQL()

	if strings.Contains(sql, "WHERE") {
		t.Errorf("empty filters should produce no WHERE clause:\n%s", sql)
	}
	// only limit and offset remain
	if len(args) != 2 {
		t.Errorf("expected only paging args, got %v", args)
	}
}

func TestFromIntent(t *testing.T) {
	parsed := intent.ParsedIntent{
		Keywords: []string{"護欄", "修繕"},
		Sender:   "工務局",
		DocType:  "函",
		DateFrom: "2025-03-01",
	}

	q := FromIntent(parsed, nil, 0)
	sql, args := q.SQL()

	if !q.relevanceOrder {
		t.Error("keyword intent should enable relevance ordering")
	}
	if !strings.Contains(sql, "sender ILIKE") {
		t.Errorf("sender filter missing from:\n%s", sql)
	}
	wantArgs := []string{"%護欄%", "%修繕%", "%工務局%"}
	for _, want := range wantArgs {
		ok := false
		for _, arg := range args {
			if arg == want {
				ok = true
				break
			}
		}
		if !ok {
			t.Errorf("expected arg %q in %v", want, args)
		}
	}
}

func TestFromIntentSemanticBlend(t *testing.T) {
	embedding := []float32{0.1, 0.2, 0.3}
	q := FromIntent(intent.ParsedIntent{Keywords: []string{"橋梁"}}, embedding, 0.6)
	sql, _ := q.SQL()

	if !strings.Contains(sql, "embedding <=>") {
		t.Errorf("semantic blend missing from:\n%s", sql)
	}
	if !strings.Contains(sql, "embedding IS NOT NULL") {
		t.Errorf("semantic query must exclude unembedded rows:\n%s", sql)
	}
}

func TestRunStopsOnDeadContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewQuery().WithKeywordsFull([]string{"護欄"}).Run(ctx, nil)
	if err == nil {
		t.Fatal("an expired context must not reach the connection")
	}
}
