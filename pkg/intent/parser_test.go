package intent

import (
	"context"
	"testing"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
)

// countingClient is an ai.Client that records structured-output calls and
// returns a fixed intent.
type countingClient struct {
	formatCalls int
	fail        bool
	intent      llmIntentResponse
}

func (c *countingClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (c *countingClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	c.formatCalls++
	if c.fail {
		return context.DeadlineExceeded
	}
	if res, ok := out.(*llmIntentResponse); ok {
		*res = c.intent
	}
	return nil
}

func (c *countingClient) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (c *countingClient) GenerateChatStream(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent)
	close(ch)
	return ch, nil
}

func (c *countingClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, nil
}

func (c *countingClient) GenerateEmbeddingBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	return make([][]float32, len(inputs)), nil
}

func (c *countingClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error { return nil }
func (c *countingClient) ResetMetrics()                                                  {}
func (c *countingClient) GetMetrics() ai.ModelMetrics                                    { return ai.ModelMetrics{} }

type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

type fixedHistory struct {
	records []Record
}

func (f *fixedHistory) FindSimilar(ctx context.Context, embedding []float32, days, limit int) ([]Record, error) {
	return f.records, nil
}

func TestParse_RuleShortCircuitSkipsLLM(t *testing.T) {
	client := &countingClient{}
	p := NewParser(Params{Client: client})

	intent, source := p.Parse(context.Background(), "114年土地協議查估")
	if source != SourceRuleEngine {
		t.Fatalf("source = %q, want %q", source, SourceRuleEngine)
	}
	if client.formatCalls != 0 {
		t.Fatalf("llm calls = %d, want 0 on rule short-circuit", client.formatCalls)
	}
	if intent.DateFrom != "2025-01-01" || intent.DateTo != "2025-12-31" {
		t.Errorf("date range = %q..%q, want 2025-01-01..2025-12-31", intent.DateFrom, intent.DateTo)
	}
}

func TestParse_VectorShortCircuitSkipsLLM(t *testing.T) {
	client := &countingClient{}
	p := NewParser(Params{
		Client:   client,
		Embedder: &fixedEmbedder{vec: []float32{1, 0, 0}},
		History: &fixedHistory{records: []Record{{
			Intent:     ParsedIntent{Keywords: []string{"道路", "養護"}},
			Confidence: 0.9,
			Similarity: 0.95,
		}}},
	})

	intent, source := p.Parse(context.Background(), "查道路養護案件")
	if source != SourceVector {
		t.Fatalf("source = %q, want %q", source, SourceVector)
	}
	if client.formatCalls != 0 {
		t.Fatalf("llm calls = %d, want 0 on vector short-circuit", client.formatCalls)
	}
	want := 0.9 * 0.95
	if intent.Confidence < want-1e-9 || intent.Confidence > want+1e-9 {
		t.Errorf("confidence = %v, want scaled %v", intent.Confidence, want)
	}
}

func TestParse_LLMFailureDegradesToFallback(t *testing.T) {
	client := &countingClient{fail: true}
	p := NewParser(Params{Client: client})

	// A single latin character yields neither a rule match nor keywords, so
	// the failed LLM layer leaves nothing but the raw-query fallback.
	intent, source := p.Parse(context.Background(), "x")
	if source != SourceFallback {
		t.Fatalf("source = %q, want %q", source, SourceFallback)
	}
	if client.formatCalls != 1 {
		t.Fatalf("llm calls = %d, want exactly 1 attempt", client.formatCalls)
	}
	if len(intent.Keywords) != 1 || intent.Keywords[0] != "x" {
		t.Fatalf("fallback keywords = %v, want the raw query", intent.Keywords)
	}
	if intent.Confidence != 0 {
		t.Errorf("fallback confidence = %v, want 0", intent.Confidence)
	}
}

func TestParse_WeakLayersMerge(t *testing.T) {
	client := &countingClient{intent: llmIntentResponse{
		Keywords:   []string{"測量"},
		Sender:     "地政局",
		Confidence: 0.6,
	}}
	p := NewParser(Params{
		Client:   client,
		Embedder: &fixedEmbedder{vec: []float32{1, 0, 0}},
		History: &fixedHistory{records: []Record{{
			Intent:     ParsedIntent{Status: "處理中"},
			Confidence: 0.7,
			Similarity: 0.82,
		}}},
	})

	intent, source := p.Parse(context.Background(), "地政局測量進度")
	if source != SourceMerged {
		t.Fatalf("source = %q, want %q", source, SourceMerged)
	}
	if client.formatCalls != 1 {
		t.Fatalf("llm calls = %d, want 1", client.formatCalls)
	}
	if intent.Status != "處理中" {
		t.Errorf("merged status = %q, want vector layer's", intent.Status)
	}
	if intent.Sender != "桃園市政府地政局" {
		t.Errorf("merged sender = %q, want expanded agency name", intent.Sender)
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	p := NewParser(Params{})
	intent, source := p.Parse(context.Background(), "   ")
	if source != SourceFallback || !intent.IsEmpty() {
		t.Fatalf("Parse(blank) = (%+v, %q), want empty fallback", intent, source)
	}
}
