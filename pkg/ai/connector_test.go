package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	text string
	err  error
}

// fakeClient satisfies Client with a scripted queue of text results shared by
// GenerateCompletion and GenerateChat. The last queued result repeats once the
// queue is exhausted.
type fakeClient struct {
	results     []fakeResult
	textCalls   int
	lastOptions GenerateOptions

	formatErr   error
	formatCalls int

	streamErr    error
	streamEvents []StreamEvent
	streamCalls  int

	embedErr   error
	embedCalls int

	metrics ModelMetrics
}

func (f *fakeClient) next() fakeResult {
	idx := f.textCalls
	f.textCalls++
	if idx < len(f.results) {
		return f.results[idx]
	}
	if len(f.results) > 0 {
		return f.results[len(f.results)-1]
	}
	return fakeResult{text: "ok"}
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	f.lastOptions = resolveOptions(opts)
	r := f.next()
	return r.text, r.err
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	f.formatCalls++
	return f.formatErr
}

func (f *fakeClient) GenerateChat(ctx context.Context, messages []ChatMessage, opts ...GenerateOption) (string, error) {
	f.lastOptions = resolveOptions(opts)
	r := f.next()
	return r.text, r.err
}

func (f *fakeClient) GenerateChatStream(ctx context.Context, messages []ChatMessage, opts ...GenerateOption) (<-chan StreamEvent, error) {
	f.streamCalls++
	f.lastOptions = resolveOptions(opts)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan StreamEvent, len(f.streamEvents))
	for _, ev := range f.streamEvents {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{0.1}, nil
}

func (f *fakeClient) GenerateEmbeddingBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (f *fakeClient) LoadModel(ctx context.Context, opts ...GenerateOption) error { return nil }
func (f *fakeClient) ResetMetrics()                                               {}
func (f *fakeClient) GetMetrics() ModelMetrics                                    { return f.metrics }

func testConnector(cloud, local Client) *Connector {
	return NewConnector(NewConnectorParams{
		Cloud:        cloud,
		Local:        local,
		Capabilities: NewCapabilityTable(map[string]ModelCapabilities{"qwen3:14b": {Reasoning: true}}),
		LocalModel:   "qwen3:14b",
		MaxRetries:   2,
		RetryBase:    time.Millisecond,
	})
}

func TestConnectorRetriesTransientCloudErrors(t *testing.T) {
	rateLimited := NewProviderError("openai", 429, errors.New("too many requests"))
	cloud := &fakeClient{results: []fakeResult{
		{err: rateLimited},
		{err: rateLimited},
		{text: "cloud answer"},
	}}
	local := &fakeClient{results: []fakeResult{{text: "local answer"}}}
	c := testConnector(cloud, local)

	got, err := c.GenerateCompletion(context.Background(), "查詢公文")
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v, want nil", err)
	}
	if got != "cloud answer" {
		t.Fatalf("GenerateCompletion() = %q, want %q", got, "cloud answer")
	}
	if cloud.textCalls != 3 {
		t.Errorf("cloud calls = %d, want 3", cloud.textCalls)
	}
	if local.textCalls != 0 {
		t.Errorf("local calls = %d, want 0", local.textCalls)
	}
}

func TestConnectorNonRetryableFallsThroughToLocal(t *testing.T) {
	badRequest := NewProviderError("openai", 400, errors.New("bad request"))
	cloud := &fakeClient{results: []fakeResult{{err: badRequest}}}
	local := &fakeClient{results: []fakeResult{{text: "local answer"}}}
	c := testConnector(cloud, local)

	got, err := c.GenerateChat(context.Background(), []ChatMessage{{Role: "user", Message: "hi"}})
	if err != nil {
		t.Fatalf("GenerateChat() error = %v, want nil", err)
	}
	if got != "local answer" {
		t.Fatalf("GenerateChat() = %q, want %q", got, "local answer")
	}
	if cloud.textCalls != 1 {
		t.Errorf("cloud calls = %d, want 1 (no retry on 400)", cloud.textCalls)
	}
	if local.textCalls != 1 {
		t.Errorf("local calls = %d, want 1", local.textCalls)
	}
}

func TestConnectorCannedResponseWhenAllProvidersFail(t *testing.T) {
	unavailable := NewProviderError("openai", 503, errors.New("service unavailable"))
	cloud := &fakeClient{results: []fakeResult{{err: unavailable}}}
	local := &fakeClient{results: []fakeResult{{err: errors.New("connection refused")}}}
	c := testConnector(cloud, local)

	got, err := c.GenerateChat(context.Background(), []ChatMessage{
		{Role: "user", Message: "你好"},
	})
	if err != nil {
		t.Fatalf("GenerateChat() error = %v, want nil (canned fallback)", err)
	}
	if got == "" {
		t.Fatal("GenerateChat() returned empty canned response")
	}
	if !strings.Contains(got, "您好") {
		t.Errorf("canned response = %q, want greeting variant", got)
	}
}

func TestConnectorChatNeverErrorsWithoutProviders(t *testing.T) {
	c := testConnector(nil, nil)

	got, err := c.GenerateCompletion(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v, want nil", err)
	}
	if got == "" {
		t.Fatal("GenerateCompletion() returned empty response with no providers")
	}
}

func TestConnectorPreferLocalRouting(t *testing.T) {
	cloud := &fakeClient{results: []fakeResult{{text: "cloud answer"}}}
	local := &fakeClient{results: []fakeResult{{text: "local answer"}}}
	c := testConnector(cloud, local)

	got, err := c.GenerateCompletion(context.Background(), "批次摘要", WithPreferLocal())
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if got != "local answer" {
		t.Fatalf("GenerateCompletion() = %q, want local answer first", got)
	}
	if cloud.textCalls != 0 {
		t.Errorf("cloud calls = %d, want 0", cloud.textCalls)
	}
}

func TestConnectorSuppressesThinkingOnReasoningLocalModel(t *testing.T) {
	local := &fakeClient{results: []fakeResult{{text: "answer"}}}
	c := testConnector(nil, local)

	if _, err := c.GenerateCompletion(context.Background(), "q", WithPreferLocal()); err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if local.lastOptions.Thinking != ThinkingOff {
		t.Errorf("local Thinking option = %q, want %q", local.lastOptions.Thinking, ThinkingOff)
	}
}

func TestConnectorDropsModelOverrideOnFallbackLeg(t *testing.T) {
	cloud := &fakeClient{results: []fakeResult{{err: NewProviderError("openai", 401, errors.New("unauthorized"))}}}
	local := &fakeClient{results: []fakeResult{{text: "answer"}}}
	c := testConnector(cloud, local)

	if _, err := c.GenerateCompletion(context.Background(), "q", WithModel("gpt-4o")); err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if cloud.lastOptions.Model != "gpt-4o" {
		t.Errorf("cloud model = %q, want gpt-4o", cloud.lastOptions.Model)
	}
	if local.lastOptions.Model != "" {
		t.Errorf("local model = %q, want empty (provider default)", local.lastOptions.Model)
	}
}

func TestConnectorStripsResidualThinkTags(t *testing.T) {
	cloud := &fakeClient{results: []fakeResult{{text: "<think>internal reasoning</think>最終答案"}}}
	c := testConnector(cloud, nil)

	got, err := c.GenerateCompletion(context.Background(), "q")
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if got != "最終答案" {
		t.Fatalf("GenerateCompletion() = %q, want think block stripped", got)
	}
}

func TestConnectorFormatSurfacesLastError(t *testing.T) {
	cloudErr := NewProviderError("openai", 500, errors.New("internal"))
	localErr := errors.New("connection refused")
	cloud := &fakeClient{formatErr: cloudErr}
	local := &fakeClient{formatErr: localErr}
	c := testConnector(cloud, local)

	var out struct{ Name string }
	err := c.GenerateCompletionWithFormat(context.Background(), "test", "test schema", "q", &out)
	if err == nil {
		t.Fatal("GenerateCompletionWithFormat() error = nil, want last provider error")
	}
	if !errors.Is(err, localErr) {
		t.Errorf("error = %v, want wrapped local error", err)
	}
	if cloud.formatCalls != 3 {
		t.Errorf("cloud format calls = %d, want 3 (retried 500)", cloud.formatCalls)
	}
	if local.formatCalls != 1 {
		t.Errorf("local format calls = %d, want 1", local.formatCalls)
	}
}

func TestConnectorEmbeddingBatchNeverFailsAsWhole(t *testing.T) {
	cloud := &fakeClient{embedErr: NewProviderError("openai", 500, errors.New("internal"))}
	local := &fakeClient{embedErr: errors.New("connection refused")}
	c := testConnector(cloud, local)

	vecs, err := c.GenerateEmbeddingBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GenerateEmbeddingBatch() error = %v, want nil", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len(vecs) = %d, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v != nil {
			t.Errorf("vecs[%d] = %v, want nil on total failure", i, v)
		}
	}
}

func TestConnectorSingleEmbeddingSurfacesError(t *testing.T) {
	cloud := &fakeClient{embedErr: NewProviderError("openai", 401, errors.New("unauthorized"))}
	c := testConnector(cloud, nil)

	if _, err := c.GenerateEmbedding(context.Background(), []byte("text")); err == nil {
		t.Fatal("GenerateEmbedding() error = nil, want provider error")
	}

	vec, err := c.GenerateEmbedding(context.Background(), []byte("   "))
	if err != nil {
		t.Fatalf("GenerateEmbedding(blank) error = %v, want nil", err)
	}
	if vec != nil {
		t.Errorf("GenerateEmbedding(blank) = %v, want nil vector", vec)
	}
}

func TestConnectorStreamFallsBackAcrossProviders(t *testing.T) {
	cloud := &fakeClient{streamErr: NewProviderError("openai", 401, errors.New("unauthorized"))}
	local := &fakeClient{streamEvents: []StreamEvent{
		{Type: "content", Content: "第一段"},
		{Type: "content", Content: "第二段"},
	}}
	c := testConnector(cloud, local)

	ch, err := c.GenerateChatStream(context.Background(), []ChatMessage{{Role: "user", Message: "q"}})
	if err != nil {
		t.Fatalf("GenerateChatStream() error = %v", err)
	}

	var got strings.Builder
	for ev := range ch {
		if ev.Type == "content" {
			got.WriteString(ev.Content)
		}
	}
	if got.String() != "第一段第二段" {
		t.Fatalf("streamed content = %q, want local stream relayed", got.String())
	}
}

func TestConnectorStreamEmitsCannedWhenAllFail(t *testing.T) {
	c := testConnector(nil, nil)

	ch, err := c.GenerateChatStream(context.Background(), []ChatMessage{{Role: "user", Message: "查公文"}})
	if err != nil {
		t.Fatalf("GenerateChatStream() error = %v", err)
	}

	events := make([]StreamEvent, 0, 2)
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 canned content event", len(events))
	}
	if events[0].Type != "content" || events[0].Content == "" {
		t.Fatalf("event = %+v, want non-empty content", events[0])
	}
}

func TestCannedResponseAlwaysNonEmpty(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"greeting", "你好啊", "您好"},
		{"dispatch keyword", "幫我看一下派工進度", "派工單"},
		{"document keyword", "搜尋土地相關公文", "關鍵字搜尋"},
		{"no keyword", "zzzzz", cannedDefault},
		{"empty", "", cannedDefault},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := cannedResponse(tc.message)
			if got == "" {
				t.Fatal("cannedResponse() returned empty text")
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("cannedResponse(%q) = %q, want contains %q", tc.message, got, tc.want)
			}
		})
	}
}
