package entity

import (
	"reflect"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  工務局  ", "工務局"},
		{"新建\n工程處", "新建 工程處"},
		{"a   b\t c", "a b c"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := normalizeName(tt.in); got != tt.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDedupeNames(t *testing.T) {
	got := dedupeNames([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupeNames = %v, want %v", got, want)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(Params{})
	if s.fuzzyThreshold != defaultFuzzyThreshold {
		t.Errorf("zero threshold should default to %v, got %v",
			defaultFuzzyThreshold, s.fuzzyThreshold)
	}

	s = NewService(Params{FuzzyThreshold: 1.5})
	if s.fuzzyThreshold != defaultFuzzyThreshold {
		t.Errorf("out-of-range threshold should default, got %v", s.fuzzyThreshold)
	}

	s = NewService(Params{FuzzyThreshold: 0.9})
	if s.fuzzyThreshold != 0.9 {
		t.Errorf("explicit threshold lost, got %v", s.fuzzyThreshold)
	}
}

func TestSweepKeyFoldsWhitespaceAndCase(t *testing.T) {
	if sweepKey("taipei  city") != sweepKey("Taipei City") {
		t.Error("sweep keys should be case and whitespace insensitive")
	}
}

func TestMergeRejectsSelf(t *testing.T) {
	s := NewService(Params{})
	if _, err := s.Merge(t.Context(), 7, 7); err == nil {
		t.Fatal("merging an entity into itself must fail")
	}
}
