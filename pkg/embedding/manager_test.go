package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
)

type stubClient struct {
	ai.Client

	embedCalls int
	batchCalls int
	lastBatch  []string
	vec        []float32
	batchVecs  [][]float32
}

func (s *stubClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	s.embedCalls++
	return s.vec, nil
}

func (s *stubClient) GenerateEmbeddingBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	s.batchCalls++
	s.lastBatch = inputs
	if s.batchVecs != nil {
		return s.batchVecs, nil
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

func newTestManager(t *testing.T, client ai.Client, params Params) *Manager {
	t.Helper()
	m, err := NewManager(client, params)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManagerCachesRepeatedText(t *testing.T) {
	stub := &stubClient{vec: []float32{0.1, 0.2}}
	m := newTestManager(t, stub, Params{})

	for range 3 {
		vec, err := m.GetEmbedding(context.Background(), "環北路 道路修繕")
		if err != nil {
			t.Fatalf("GetEmbedding() error = %v", err)
		}
		if len(vec) != 2 {
			t.Fatalf("GetEmbedding() len = %d, want 2", len(vec))
		}
	}

	if stub.embedCalls != 1 {
		t.Fatalf("provider calls = %d, want 1 (repeats should hit the cache)", stub.embedCalls)
	}
}

func TestManagerNormalizesBeforeKeying(t *testing.T) {
	stub := &stubClient{vec: []float32{1}}
	m := newTestManager(t, stub, Params{})

	if _, err := m.GetEmbedding(context.Background(), "防汛  整備"); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}
	if _, err := m.GetEmbedding(context.Background(), "  防汛 整備 "); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}

	if stub.embedCalls != 1 {
		t.Fatalf("provider calls = %d, want 1 (whitespace variants share a key)", stub.embedCalls)
	}
}

func TestManagerTTLExpiryIsMiss(t *testing.T) {
	stub := &stubClient{vec: []float32{1}}
	m := newTestManager(t, stub, Params{CacheTTL: time.Minute})

	current := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	if _, err := m.GetEmbedding(context.Background(), "查估報告"); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}

	current = current.Add(30 * time.Second)
	if _, err := m.GetEmbedding(context.Background(), "查估報告"); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}
	if stub.embedCalls != 1 {
		t.Fatalf("provider calls = %d, want 1 before expiry", stub.embedCalls)
	}

	current = current.Add(2 * time.Minute)
	if _, err := m.GetEmbedding(context.Background(), "查估報告"); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}
	if stub.embedCalls != 2 {
		t.Fatalf("provider calls = %d, want 2 after expiry", stub.embedCalls)
	}
}

func TestManagerEvictsAtCapacity(t *testing.T) {
	stub := &stubClient{vec: []float32{1}}
	m := newTestManager(t, stub, Params{CacheSize: 2})

	for _, text := range []string{"工務局", "水務局", "養護工程處"} {
		if _, err := m.GetEmbedding(context.Background(), text); err != nil {
			t.Fatalf("GetEmbedding(%q) error = %v", text, err)
		}
	}

	if m.CacheLen() != 2 {
		t.Fatalf("CacheLen() = %d, want 2", m.CacheLen())
	}
}

func TestManagerBlankTextSkipsProvider(t *testing.T) {
	stub := &stubClient{vec: []float32{1}}
	m := newTestManager(t, stub, Params{})

	vec, err := m.GetEmbedding(context.Background(), "   ")
	if err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}
	if vec != nil {
		t.Fatalf("GetEmbedding() = %v, want nil for blank text", vec)
	}
	if stub.embedCalls != 0 {
		t.Fatalf("provider calls = %d, want 0", stub.embedCalls)
	}
}

func TestManagerBatchFillsFromCacheFirst(t *testing.T) {
	stub := &stubClient{vec: []float32{1}}
	m := newTestManager(t, stub, Params{})

	if _, err := m.GetEmbedding(context.Background(), "土地協議"); err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}

	out, err := m.GetEmbeddingBatch(context.Background(), []string{"土地協議", "路平專案", ""})
	if err != nil {
		t.Fatalf("GetEmbeddingBatch() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("batch result len = %d, want 3", len(out))
	}
	if out[0] == nil || out[1] == nil {
		t.Fatalf("batch results = %v, want vectors for non-blank inputs", out)
	}
	if out[2] != nil {
		t.Fatalf("blank input vector = %v, want nil", out[2])
	}

	if stub.batchCalls != 1 {
		t.Fatalf("batch provider calls = %d, want 1", stub.batchCalls)
	}
	if len(stub.lastBatch) != 1 || stub.lastBatch[0] != "路平專案" {
		t.Fatalf("provider batch inputs = %v, want only the uncached text", stub.lastBatch)
	}
}

func TestManagerBatchDoesNotCacheFailedItems(t *testing.T) {
	stub := &stubClient{batchVecs: [][]float32{nil}}
	m := newTestManager(t, stub, Params{})

	out, err := m.GetEmbeddingBatch(context.Background(), []string{"無法嵌入的字串"})
	if err != nil {
		t.Fatalf("GetEmbeddingBatch() error = %v", err)
	}
	if out[0] != nil {
		t.Fatalf("failed item vector = %v, want nil", out[0])
	}

	if _, err := m.GetEmbeddingBatch(context.Background(), []string{"無法嵌入的字串"}); err != nil {
		t.Fatalf("GetEmbeddingBatch() retry error = %v", err)
	}
	if stub.batchCalls != 2 {
		t.Fatalf("batch provider calls = %d, want 2 (nil vectors must not be cached)", stub.batchCalls)
	}
}
