package intent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func containsKeyword(keywords []string, want string) bool {
	for _, kw := range keywords {
		if kw == want {
			return true
		}
	}
	return false
}

func TestEngineMatch_ROCYearAndDocType(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("114年土地協議查估的函")
	if !matched {
		t.Fatal("Match() should report a match")
	}

	if intent.DateFrom != "2025-01-01" || intent.DateTo != "2025-12-31" {
		t.Fatalf("date range = %s..%s, want 2025-01-01..2025-12-31", intent.DateFrom, intent.DateTo)
	}
	if intent.DocType != "函" {
		t.Fatalf("DocType = %q, want 函", intent.DocType)
	}
	for _, want := range []string{"土地", "協議", "查估"} {
		if !containsKeyword(intent.Keywords, want) {
			t.Fatalf("Keywords = %v, want to contain %q", intent.Keywords, want)
		}
	}
	if intent.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9 from the year rule", intent.Confidence)
	}
}

func TestEngineMatch_ROCYearMonth(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("114年3月的會勘紀錄")
	if !matched {
		t.Fatal("Match() should report a match")
	}

	if intent.DateFrom != "2025-03-01" || intent.DateTo != "2025-03-31" {
		t.Fatalf("date range = %s..%s, want 2025-03-01..2025-03-31", intent.DateFrom, intent.DateTo)
	}
	if !containsKeyword(intent.Keywords, "會勘") {
		t.Fatalf("Keywords = %v, want to contain 會勘", intent.Keywords)
	}
	if intent.Confidence != 0.92 {
		t.Fatalf("Confidence = %v, want 0.92", intent.Confidence)
	}
}

func TestEngineMatch_RelativeDates(t *testing.T) {
	fixed := time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		query    string
		wantFrom string
		wantTo   string
	}{
		{
			name:     "previous month",
			query:    "上個月的陳情案件",
			wantFrom: "2025-07-01",
			wantTo:   "2025-07-31",
		},
		{
			name:     "current month",
			query:    "本月發出的公告",
			wantFrom: "2025-08-01",
			wantTo:   "2025-08-31",
		},
		{
			name:     "current year",
			query:    "今年的驗收紀錄",
			wantFrom: "2025-01-01",
			wantTo:   "2025-12-31",
		},
		{
			name:     "previous year",
			query:    "去年的防汛整備",
			wantFrom: "2024-01-01",
			wantTo:   "2024-12-31",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			e.now = func() time.Time { return fixed }

			intent, matched := e.Match(tt.query)
			if !matched {
				t.Fatal("Match() should report a match")
			}
			if intent.DateFrom != tt.wantFrom || intent.DateTo != tt.wantTo {
				t.Fatalf("date range = %s..%s, want %s..%s",
					intent.DateFrom, intent.DateTo, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestEngineMatch_SenderAgency(t *testing.T) {
	e := NewEngine(nil)
	e.now = func() time.Time { return time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC) }

	intent, matched := e.Match("上個月水務局寄來關於防汛的公文")
	if !matched {
		t.Fatal("Match() should report a match")
	}

	if intent.Sender != "水務局" {
		t.Fatalf("Sender = %q, want 水務局", intent.Sender)
	}
	if intent.DateFrom != "2025-07-01" || intent.DateTo != "2025-07-31" {
		t.Fatalf("date range = %s..%s, want 2025-07-01..2025-07-31", intent.DateFrom, intent.DateTo)
	}
	if !containsKeyword(intent.Keywords, "防汛") {
		t.Fatalf("Keywords = %v, want to contain 防汛", intent.Keywords)
	}
	if containsKeyword(intent.Keywords, "水務") {
		t.Fatalf("Keywords = %v, consumed agency should not reappear as bigrams", intent.Keywords)
	}
}

func TestEngineMatch_ReceiverAgency(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("發給養護工程處的書函")
	if !matched {
		t.Fatal("Match() should report a match")
	}
	if intent.Receiver != "養護工程處" {
		t.Fatalf("Receiver = %q, want 養護工程處", intent.Receiver)
	}
	if intent.DocType != "書函" {
		t.Fatalf("DocType = %q, want 書函", intent.DocType)
	}
}

func TestEngineMatch_DispatchAndStatus(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("待處理的派工單")
	if !matched {
		t.Fatal("Match() should report a match")
	}
	if !intent.SearchDispatch {
		t.Fatal("SearchDispatch should be set for 派工單 queries")
	}
	if intent.Status != "待處理" {
		t.Fatalf("Status = %q, want 待處理", intent.Status)
	}
}

func TestEngineMatch_ContractCase(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("案號 114-023 的驗收進度")
	if !matched {
		t.Fatal("Match() should report a match")
	}
	if intent.ContractCase != "114-023" {
		t.Fatalf("ContractCase = %q, want 114-023", intent.ContractCase)
	}
}

func TestEngineMatch_GregorianRange(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("2025-01-01到2025-06-30的陳情")
	if !matched {
		t.Fatal("Match() should report a match")
	}
	if intent.DateFrom != "2025-01-01" || intent.DateTo != "2025-06-30" {
		t.Fatalf("date range = %s..%s, want 2025-01-01..2025-06-30", intent.DateFrom, intent.DateTo)
	}
	if intent.Confidence != 0.92 {
		t.Fatalf("Confidence = %v, want 0.92", intent.Confidence)
	}
}

func TestEngineMatch_KeywordsOnly(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("環北路人行道改善")
	if !matched {
		t.Fatal("Match() should report a keyword-only match")
	}
	if intent.Confidence != keywordOnlyConfidence {
		t.Fatalf("Confidence = %v, want %v for keyword-only match", intent.Confidence, keywordOnlyConfidence)
	}
	if len(intent.Keywords) == 0 {
		t.Fatal("Keywords should not be empty")
	}
}

func TestEngineMatch_Nothing(t *testing.T) {
	e := NewEngine(nil)

	intent, matched := e.Match("好")
	if matched {
		t.Fatalf("Match() = %+v, want no match for a single character", intent)
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "han bigrams split on particle",
			in:   "土地協議查估的函文",
			want: []string{"土地", "協議", "查估", "函文"},
		},
		{
			name: "odd run folds tail into overlapping bigram",
			in:   "修繕工程案",
			want: []string{"修繕", "工程", "程案"},
		},
		{
			name: "latin and digits pass through",
			in:   "查詢DS-2025-0113的派工",
			want: []string{"DS", "2025", "0113", "派工"},
		},
		{
			name: "stop terms removed",
			in:   "請問有沒有相關資料",
			want: nil,
		},
		{
			name: "single han char dropped",
			in:   "路",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ExtractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestNormalizeYear(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"114", 2025, true},
		{"113", 2024, true},
		{"2025", 2025, true},
		{"199", 2110, true},
		{"80", 1991, true},
		{"79", 0, false},
		{"200", 0, false},
		{"10", 0, false},
		{"1899", 0, false},
	}

	for _, tt := range tests {
		got, ok := normalizeYear(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("normalizeYear(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewEngineFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	config := `[
		{"name": "urgent", "pattern": "速件", "confidence": 0.9, "field": "status", "value": "速件", "consume": true}
	]`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := NewEngineFromConfig(path)
	if err != nil {
		t.Fatalf("NewEngineFromConfig() error = %v", err)
	}

	intent, matched := e.Match("速件請儘速處理")
	if !matched {
		t.Fatal("Match() should report a match")
	}
	if intent.Status != "速件" {
		t.Fatalf("Status = %q, want 速件 from configured rule", intent.Status)
	}
	if intent.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9", intent.Confidence)
	}
}

func TestNewEngineFromConfig_MissingFile(t *testing.T) {
	if _, err := NewEngineFromConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("NewEngineFromConfig() should fail for a missing file")
	}
}
