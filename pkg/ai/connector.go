package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
)

const (
	providerCloud = "cloud"
	providerLocal = "local"

	defaultRetryBase = 500 * time.Millisecond

	// Texts sent to the embedding endpoint are clipped to this many runes so
	// an oversized document body cannot blow the provider's input limit.
	maxEmbedInputRunes = 8000
)

// ErrNoProviders is returned by non-chat operations when the connector was
// built without any usable provider client.
var ErrNoProviders = errors.New("no AI providers configured")

// Connector implements Client over a cloud provider and a local provider.
//
// Chat completions follow a fixed fallback policy: the default path tries the
// cloud client with bounded retries (retrying only transient failures), then
// the local client, and finally a deterministic canned response — a chat call
// never returns an error. WithPreferLocal reverses the provider order for
// batch work that should stay off metered endpoints. Structured completions
// and embeddings walk the same chain but surface the last error so callers
// can run their own degradation.
type Connector struct {
	cloud Client
	local Client

	caps       *CapabilityTable
	localModel string

	maxRetries int
	retryBase  time.Duration
}

// NewConnectorParams configures a Connector. Cloud and Local may each be nil
// when the corresponding provider is not configured; a Connector with no
// clients still satisfies chat calls via canned responses.
type NewConnectorParams struct {
	Cloud Client
	Local Client

	Capabilities *CapabilityTable
	LocalModel   string

	MaxRetries int
	RetryBase  time.Duration
}

// NewConnector creates a Connector with the given providers and retry policy.
func NewConnector(params NewConnectorParams) *Connector {
	if params.RetryBase <= 0 {
		params.RetryBase = defaultRetryBase
	}
	return &Connector{
		cloud:      params.Cloud,
		local:      params.Local,
		caps:       params.Capabilities,
		localModel: params.LocalModel,
		maxRetries: params.MaxRetries,
		retryBase:  params.RetryBase,
	}
}

type providerSlot struct {
	name    string
	client  Client
	retry   bool
	primary bool
}

func (c *Connector) order(o GenerateOptions) [2]providerSlot {
	cloud := providerSlot{name: providerCloud, client: c.cloud, retry: true}
	local := providerSlot{name: providerLocal, client: c.local}
	if o.PreferLocal {
		local.primary = true
		return [2]providerSlot{local, cloud}
	}
	cloud.primary = true
	return [2]providerSlot{cloud, local}
}

func resolveOptions(opts []GenerateOption) GenerateOptions {
	options := GenerateOptions{}
	for _, o := range opts {
		o(&options)
	}
	return options
}

// optsFor rebuilds the option list for one provider leg. A fallback leg drops
// the caller's model override (the requested model belongs to the primary
// provider); reasoning-capable local models get thinking suppressed unless the
// caller asked for it explicitly.
func (c *Connector) optsFor(slot providerSlot, o GenerateOptions) []GenerateOption {
	resolved := o
	if !slot.primary {
		resolved.Model = ""
	}
	if slot.name == providerLocal {
		model := resolved.Model
		if model == "" {
			model = c.localModel
		}
		if resolved.Thinking == "" && c.caps.Resolve(model).Reasoning {
			resolved.Thinking = ThinkingOff
		}
	}

	out := make([]GenerateOption, 0, 4)
	if resolved.Model != "" {
		out = append(out, WithModel(resolved.Model))
	}
	if len(resolved.SystemPrompts) > 0 {
		out = append(out, WithSystemPrompts(resolved.SystemPrompts...))
	}
	if resolved.Temperature != 0 {
		out = append(out, WithTemperature(resolved.Temperature))
	}
	if resolved.Thinking != "" {
		out = append(out, WithThinking(resolved.Thinking))
	}
	return out
}

func (c *Connector) callText(
	ctx context.Context,
	slot providerSlot,
	o GenerateOptions,
	fn func(context.Context, Client, []GenerateOption) (string, error),
) (string, error) {
	opts := c.optsFor(slot, o)
	if !slot.retry {
		return fn(ctx, slot.client, opts)
	}
	return util.RetryWithBackoff(ctx, c.maxRetries+1, c.retryBase, IsRetryable,
		func(rctx context.Context) (string, error) {
			return fn(rctx, slot.client, opts)
		})
}

func (c *Connector) textWithFallback(
	ctx context.Context,
	o GenerateOptions,
	fn func(context.Context, Client, []GenerateOption) (string, error),
) (string, error) {
	var lastErr error
	for _, slot := range c.order(o) {
		if slot.client == nil {
			continue
		}
		text, err := c.callText(ctx, slot, o, fn)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logger.Warn("[AI] provider call failed",
			"provider", slot.name, "kind", KindOf(err).String(), "err", err)
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return "", lastErr
}

// GenerateCompletion runs a single-turn prompt through the fallback chain.
// When every provider fails it returns a canned response keyed off the
// prompt, never an error.
func (c *Connector) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...GenerateOption,
) (string, error) {
	o := resolveOptions(opts)
	text, err := c.textWithFallback(ctx, o,
		func(cctx context.Context, cl Client, callOpts []GenerateOption) (string, error) {
			return cl.GenerateCompletion(cctx, prompt, callOpts...)
		})
	if err != nil {
		logger.Error("[AI] all providers failed, using canned response", "err", err)
		return cannedResponse(prompt), nil
	}
	return StripThinkTags(text), nil
}

// GenerateChat runs a multi-turn conversation through the fallback chain with
// the same never-error guarantee as GenerateCompletion.
func (c *Connector) GenerateChat(
	ctx context.Context,
	messages []ChatMessage,
	opts ...GenerateOption,
) (string, error) {
	o := resolveOptions(opts)
	text, err := c.textWithFallback(ctx, o,
		func(cctx context.Context, cl Client, callOpts []GenerateOption) (string, error) {
			return cl.GenerateChat(cctx, messages, callOpts...)
		})
	if err != nil {
		logger.Error("[AI] all providers failed, using canned response", "err", err)
		return cannedResponse(lastUserMessage(messages)), nil
	}
	return StripThinkTags(text), nil
}

// GenerateCompletionWithFormat walks the fallback chain for a structured
// completion. Unlike the plain chat methods it surfaces the last provider
// error: a canned response cannot satisfy a JSON schema, and callers of
// structured output all carry their own degradation path.
func (c *Connector) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	o := resolveOptions(opts)
	var lastErr error
	for _, slot := range c.order(o) {
		if slot.client == nil {
			continue
		}
		callOpts := c.optsFor(slot, o)
		var err error
		if slot.retry {
			_, err = util.RetryWithBackoff(ctx, c.maxRetries+1, c.retryBase, IsRetryable,
				func(rctx context.Context) (struct{}, error) {
					return struct{}{}, slot.client.GenerateCompletionWithFormat(
						rctx, name, description, prompt, out, callOpts...)
				})
		} else {
			err = slot.client.GenerateCompletionWithFormat(
				ctx, name, description, prompt, out, callOpts...)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("[AI] structured completion failed",
			"provider", slot.name, "schema", name, "kind", KindOf(err).String(), "err", err)
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return lastErr
}

// GenerateChatStream streams a conversation through the fallback chain. The
// returned channel never stays silent: if a provider fails before emitting any
// content the next one is tried, and when everything fails a single canned
// content event is emitted. Once a provider has emitted content the stream is
// committed to it; a mid-stream death is not restarted on another provider.
func (c *Connector) GenerateChatStream(
	ctx context.Context,
	messages []ChatMessage,
	opts ...GenerateOption,
) (<-chan StreamEvent, error) {
	o := resolveOptions(opts)
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)
		for _, slot := range c.order(o) {
			if slot.client == nil {
				continue
			}
			if c.relayStream(ctx, slot, messages, o, out) {
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case out <- StreamEvent{Type: "content", Content: cannedResponse(lastUserMessage(messages))}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// relayStream forwards one provider's stream into out. It reports true when
// at least one content event was relayed, which commits the response to this
// provider regardless of how the stream ended.
func (c *Connector) relayStream(
	ctx context.Context,
	slot providerSlot,
	messages []ChatMessage,
	o GenerateOptions,
	out chan<- StreamEvent,
) bool {
	callOpts := c.optsFor(slot, o)

	var (
		ch  <-chan StreamEvent
		err error
	)
	if slot.retry {
		ch, err = util.RetryWithBackoff(ctx, c.maxRetries+1, c.retryBase, IsRetryable,
			func(rctx context.Context) (<-chan StreamEvent, error) {
				return slot.client.GenerateChatStream(rctx, messages, callOpts...)
			})
	} else {
		ch, err = slot.client.GenerateChatStream(ctx, messages, callOpts...)
	}
	if err != nil {
		logger.Warn("[AI] stream start failed",
			"provider", slot.name, "kind", KindOf(err).String(), "err", err)
		return false
	}

	emitted := false
	for ev := range ch {
		if ev.Type == "content" && ev.Content != "" {
			emitted = true
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return true
		}
	}
	if !emitted {
		logger.Warn("[AI] stream produced no content", "provider", slot.name)
	}
	return emitted
}

// GenerateEmbedding produces one embedding vector via the fallback chain.
// Empty input yields a nil vector without touching any provider; a total
// provider failure surfaces as an error so callers can degrade to
// keyword-only behavior.
func (c *Connector) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return nil, nil
	}
	vecs, err := c.embedBatch(ctx, []string{string(input)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateEmbeddingBatch embeds many texts in one provider request per leg.
// The result always has one entry per input, in input order; empty inputs and
// total provider failure yield nil entries instead of an error, so a batch
// can never fail as a whole.
func (c *Connector) GenerateEmbeddingBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	vecs, err := c.embedBatch(ctx, inputs)
	if err != nil {
		logger.Error("[AI] embedding batch failed on all providers",
			"inputs", len(inputs), "err", err)
		return make([][]float32, len(inputs)), nil
	}
	return vecs, nil
}

func (c *Connector) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	clipped := make([]string, len(inputs))
	for i, in := range inputs {
		clipped[i] = util.TruncateRunes(in, maxEmbedInputRunes)
	}

	var lastErr error
	for _, slot := range c.order(GenerateOptions{}) {
		if slot.client == nil {
			continue
		}
		var (
			vecs [][]float32
			err  error
		)
		if slot.retry {
			vecs, err = util.RetryWithBackoff(ctx, c.maxRetries+1, c.retryBase, IsRetryable,
				func(rctx context.Context) ([][]float32, error) {
					return slot.client.GenerateEmbeddingBatch(rctx, clipped)
				})
		} else {
			vecs, err = slot.client.GenerateEmbeddingBatch(ctx, clipped)
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		logger.Warn("[AI] embedding call failed",
			"provider", slot.name, "kind", KindOf(err).String(), "err", err)
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, lastErr
}

// LoadModel preloads the local model when a local provider is configured.
// Cloud providers load on demand, so without a local client this is a no-op.
func (c *Connector) LoadModel(ctx context.Context, opts ...GenerateOption) error {
	if c.local != nil {
		return c.local.LoadModel(ctx, opts...)
	}
	return nil
}

// ResetMetrics clears accumulated metrics on both providers.
func (c *Connector) ResetMetrics() {
	if c.cloud != nil {
		c.cloud.ResetMetrics()
	}
	if c.local != nil {
		c.local.ResetMetrics()
	}
}

// GetMetrics returns the combined token and timing metrics of both providers.
func (c *Connector) GetMetrics() ModelMetrics {
	var total ModelMetrics
	add := func(m ModelMetrics) {
		total.InputTokens += m.InputTokens
		total.OutputTokens += m.OutputTokens
		total.TotalTokens += m.TotalTokens
		total.DurationMs += m.DurationMs
		total.WallClockMs += m.WallClockMs
	}
	if c.cloud != nil {
		add(c.cloud.GetMetrics())
	}
	if c.local != nil {
		add(c.local.GetMetrics())
	}
	if total.DurationMs > 0 {
		total.TokenPerSecond = float32(float64(total.TotalTokens) * 1000.0 / float64(total.DurationMs))
	}
	return total
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Message
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Message
	}
	return ""
}

// cannedResponses map message keywords to fixed fallback texts. The first
// group with a keyword contained in the message wins, so greetings are checked
// before the generic search hints.
var cannedResponses = []struct {
	keywords []string
	response string
}{
	{
		keywords: []string{"你好", "您好", "嗨", "hello", "hi"},
		response: "您好！我是公文管理系統的智慧助理，可以協助您查詢公文、派工單與相關單位資訊。",
	},
	{
		keywords: []string{"謝謝", "感謝", "thank"},
		response: "不客氣！如需查詢公文或派工單，隨時告訴我。",
	},
	{
		keywords: []string{"再見", "掰掰", "bye"},
		response: "再見！有公文查詢需求歡迎隨時使用本系統。",
	},
	{
		keywords: []string{"派工", "工單"},
		response: "AI 服務目前暫時無法使用，請改用派工單列表的條件篩選功能查詢。",
	},
	{
		keywords: []string{"公文", "查詢", "搜尋", "search", "find"},
		response: "AI 服務目前暫時無法使用，請改用關鍵字搜尋功能查詢公文。",
	},
}

const cannedDefault = "系統目前無法連線至 AI 服務，請稍後再試，或改用一般搜尋功能。"

// cannedResponse returns deterministic fallback text for the given user
// message. It always returns non-empty text.
func cannedResponse(message string) string {
	msg := strings.ToLower(message)
	for _, canned := range cannedResponses {
		for _, kw := range canned.keywords {
			if strings.Contains(msg, kw) {
				return canned.response
			}
		}
	}
	return cannedDefault
}
