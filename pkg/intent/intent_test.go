package intent

import (
	"math"
	"reflect"
	"testing"
)

func TestMergeIntents_SingleLayerUnchanged(t *testing.T) {
	in := ParsedIntent{
		Keywords:   []string{"土地", "查估"},
		Status:     "處理中",
		DateFrom:   "2025-01-01",
		Confidence: 0.9,
	}
	got := MergeIntents([]LayerIntent{{Source: SourceRuleEngine, Intent: in}})
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("MergeIntents(single) = %+v, want %+v", got, in)
	}
}

func TestMergeIntents_Empty(t *testing.T) {
	got := MergeIntents(nil)
	if !got.IsEmpty() || got.Confidence != 0 {
		t.Fatalf("MergeIntents(nil) = %+v, want zero intent", got)
	}
}

func TestMergeIntents_DeterministicFieldsRuleWins(t *testing.T) {
	rule := LayerIntent{Source: SourceRuleEngine, Intent: ParsedIntent{Status: "A", DocType: "函"}}
	llm := LayerIntent{Source: SourceLLM, Intent: ParsedIntent{Status: "B", DocType: "公告"}}

	for _, layers := range [][]LayerIntent{{rule, llm}, {llm, rule}} {
		got := MergeIntents(layers)
		if got.Status != "A" {
			t.Errorf("merged status = %q, want rule's %q", got.Status, "A")
		}
		if got.DocType != "函" {
			t.Errorf("merged doc type = %q, want rule's %q", got.DocType, "函")
		}
	}
}

func TestMergeIntents_SemanticFieldsLLMWins(t *testing.T) {
	rule := LayerIntent{Source: SourceRuleEngine, Intent: ParsedIntent{
		Keywords: []string{"土地"},
		Sender:   "工務局",
	}}
	llm := LayerIntent{Source: SourceLLM, Intent: ParsedIntent{
		Keywords: []string{"土地", "協議", "查估"},
		Sender:   "桃園市政府工務局",
	}}

	for _, layers := range [][]LayerIntent{{rule, llm}, {llm, rule}} {
		got := MergeIntents(layers)
		if !reflect.DeepEqual(got.Keywords, llm.Intent.Keywords) {
			t.Errorf("merged keywords = %v, want LLM's %v", got.Keywords, llm.Intent.Keywords)
		}
		if got.Sender != llm.Intent.Sender {
			t.Errorf("merged sender = %q, want LLM's %q", got.Sender, llm.Intent.Sender)
		}
	}
}

func TestMergeIntents_SemanticFallsBackToEarlierLayer(t *testing.T) {
	rule := LayerIntent{Source: SourceRuleEngine, Intent: ParsedIntent{Keywords: []string{"查估"}}}
	llm := LayerIntent{Source: SourceLLM, Intent: ParsedIntent{Status: "已結案"}}

	got := MergeIntents([]LayerIntent{rule, llm})
	if !reflect.DeepEqual(got.Keywords, []string{"查估"}) {
		t.Errorf("merged keywords = %v, want rule's when LLM extracted none", got.Keywords)
	}
}

func TestMergeIntents_ConfidenceRenormalizes(t *testing.T) {
	tests := []struct {
		name   string
		layers []LayerIntent
		want   float64
	}{
		{
			name: "all three layers",
			layers: []LayerIntent{
				{Source: SourceRuleEngine, Intent: ParsedIntent{Confidence: 0.9}},
				{Source: SourceVector, Intent: ParsedIntent{Confidence: 0.8}},
				{Source: SourceLLM, Intent: ParsedIntent{Confidence: 0.5}},
			},
			want: (0.3*0.9 + 0.3*0.8 + 0.4*0.5) / 1.0,
		},
		{
			name: "vector layer absent",
			layers: []LayerIntent{
				{Source: SourceRuleEngine, Intent: ParsedIntent{Confidence: 0.9}},
				{Source: SourceLLM, Intent: ParsedIntent{Confidence: 0.5}},
			},
			want: (0.3*0.9 + 0.4*0.5) / 0.7,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeIntents(tt.layers)
			if math.Abs(got.Confidence-tt.want) > 1e-9 {
				t.Fatalf("merged confidence = %v, want %v", got.Confidence, tt.want)
			}
		})
	}
}

func TestMergeIntents_DispatchFlagSticky(t *testing.T) {
	got := MergeIntents([]LayerIntent{
		{Source: SourceRuleEngine, Intent: ParsedIntent{SearchDispatch: true}},
		{Source: SourceLLM, Intent: ParsedIntent{}},
	})
	if !got.SearchDispatch {
		t.Fatal("dispatch flag lost in merge")
	}
}
