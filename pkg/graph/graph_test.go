package graph

import (
	"testing"
)

func TestClampHops(t *testing.T) {
	tests := []struct {
		hops, max, want int
	}{
		{0, maxNeighborHops, 1},
		{-3, maxNeighborHops, 1},
		{2, maxNeighborHops, 2},
		{10, maxNeighborHops, 4},
		{10, maxPathHops, 6},
	}
	for _, tt := range tests {
		if got := clampHops(tt.hops, tt.max); got != tt.want {
			t.Errorf("clampHops(%d, %d) = %d, want %d", tt.hops, tt.max, got, tt.want)
		}
	}
}

func TestClampGraphLimit(t *testing.T) {
	if got := clampGraphLimit(0); got != defaultGraphLimit {
		t.Errorf("zero limit should default, got %d", got)
	}
	if got := clampGraphLimit(9999); got != maxGraphLimit {
		t.Errorf("oversized limit should clamp, got %d", got)
	}
	if got := clampGraphLimit(42); got != 42 {
		t.Errorf("in-range limit changed, got %d", got)
	}
}

func TestCacheKey(t *testing.T) {
	if got := cacheKey(opNeighbors, int64(7), 2, 20); got != "graph:neighbors:7:2:20" {
		t.Errorf("unexpected cache key %q", got)
	}
	if got := cacheKey(opStats); got != "graph:stats:" {
		t.Errorf("unexpected cache key %q", got)
	}
}

func TestExtractorFilter(t *testing.T) {
	e := NewExtractor(ExtractorParams{MinConfidence: 0.5})

	res := extractResponse{
		Entities: []extractedEntityJSON{
			{EntityName: "工務局", EntityType: "org", Confidence: 0.9, Context: "本府工務局主辦"},
			{EntityName: "路過的人", EntityType: "person", Confidence: 0.2},
			{EntityName: "幽靈", EntityType: "ghost", Confidence: 0.9},
			{EntityName: " ", EntityType: "org", Confidence: 0.9},
			{EntityName: "中壢區", EntityType: "location", Confidence: 0.85},
		},
		Relationships: []extractedRelationJSON{
			{SourceEntity: "工務局", TargetEntity: "中壢區", RelationType: "位於", Strength: 0.8},
			{SourceEntity: "工務局", TargetEntity: "路過的人", RelationType: "涉及", Strength: 0.8},
			{SourceEntity: "工務局", TargetEntity: "工務局", RelationType: "自己", Strength: 0.8},
			{SourceEntity: "工務局", TargetEntity: "中壢區", RelationType: "涉及", Strength: 7},
		},
	}

	got := e.filter(42, res)

	if len(got.Entities) != 2 {
		t.Fatalf("expected 2 surviving entities, got %d: %+v", len(got.Entities), got.Entities)
	}
	for _, ent := range got.Entities {
		if ent.DocumentID != 42 {
			t.Errorf("entity missing document id: %+v", ent)
		}
	}

	if len(got.Relations) != 2 {
		t.Fatalf("expected 2 surviving relations, got %d: %+v", len(got.Relations), got.Relations)
	}
	for _, rel := range got.Relations {
		if rel.Strength <= 0 || rel.Strength > 1 {
			t.Errorf("relation strength not normalized: %+v", rel)
		}
	}
}

func TestNewExtractorDefaults(t *testing.T) {
	e := NewExtractor(ExtractorParams{})
	if e.confidence != defaultNERConfidence {
		t.Errorf("zero confidence should default to %v, got %v",
			defaultNERConfidence, e.confidence)
	}
	if e.maxRetries != 2 {
		t.Errorf("zero retries should default to 2, got %d", e.maxRetries)
	}
}
