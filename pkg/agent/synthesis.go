package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultContextTokens = 6000
	defaultHistoryTokens = 2000

	// tokenEstimateDivisor approximates tokens from runes when the encoder
	// is unavailable. CJK text runs close to one token per rune; the
	// estimate stays conservative.
	tokenEstimateDivisor = 1
)

// Synthesizer turns retrieval results into the streamed, citation-grounded
// answer. Retrieval context and chat history are trimmed to token budgets
// before they reach the model.
type Synthesizer struct {
	client        ai.Client
	contextTokens int
	historyTokens int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// SynthesizerParams configures a Synthesizer. Zero budgets select defaults.
type SynthesizerParams struct {
	Client        ai.Client
	ContextTokens int
	HistoryTokens int
}

func NewSynthesizer(params SynthesizerParams) *Synthesizer {
	if params.ContextTokens <= 0 {
		params.ContextTokens = defaultContextTokens
	}
	if params.HistoryTokens <= 0 {
		params.HistoryTokens = defaultHistoryTokens
	}
	return &Synthesizer{
		client:        params.Client,
		contextTokens: params.ContextTokens,
		historyTokens: params.HistoryTokens,
	}
}

func (s *Synthesizer) encoder() *tiktoken.Tiktoken {
	s.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("[Agent] Token encoder unavailable, using rune estimate", "error", err)
			return
		}
		s.enc = enc
	})
	return s.enc
}

// CountTokens measures text against the synthesis model's tokenizer,
// falling back to a rune estimate.
func (s *Synthesizer) CountTokens(text string) int {
	if enc := s.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len([]rune(text)) / tokenEstimateDivisor
}

// trimToTokens cuts text down to at most budget tokens.
func (s *Synthesizer) trimToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if enc := s.encoder(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= budget {
			return text
		}
		return enc.Decode(tokens[:budget])
	}
	runes := []rune(text)
	if len(runes) <= budget*tokenEstimateDivisor {
		return text
	}
	return string(runes[:budget*tokenEstimateDivisor])
}

// BuildContext concatenates successful tool outputs into the data section of
// the synthesis prompt, within the context token budget. Results are taken
// in plan order so earlier, more targeted retrievals survive truncation.
func (s *Synthesizer) BuildContext(results []ToolResult) string {
	var sb strings.Builder
	for _, res := range results {
		if res.Err != nil || res.Markdown == "" {
			continue
		}
		sb.WriteString(res.Markdown)
		if !strings.HasSuffix(res.Markdown, "\n") {
			sb.WriteString("\n")
		}
	}
	return s.trimToTokens(sb.String(), s.contextTokens)
}

// TrimHistory keeps the most recent chat messages that fit the history token
// budget, never splitting a message.
func (s *Synthesizer) TrimHistory(history []ai.ChatMessage) []ai.ChatMessage {
	if len(history) == 0 {
		return history
	}
	budget := s.historyTokens
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := s.CountTokens(history[i].Message)
		if cost > budget {
			break
		}
		budget -= cost
		kept++
	}
	return history[len(history)-kept:]
}

// Stream generates the answer over the retrieval data, splitting the token
// stream into text and citations. onStage receives model step changes,
// onText the answer chunks, onCitation each cited document id; any callback
// may be nil.
func (s *Synthesizer) Stream(
	ctx context.Context,
	query string,
	data string,
	history []ai.ChatMessage,
	onStage func(string) error,
	onText func(string) error,
	onCitation func(string) error,
) error {
	if s.client == nil {
		return fmt.Errorf("ai client is nil")
	}
	if onText == nil {
		onText = func(string) error { return nil }
	}
	if onCitation == nil {
		onCitation = func(string) error { return nil }
	}

	system := fmt.Sprintf(ai.SynthesisPrompt, data)
	messages := make([]ai.ChatMessage, 0, len(history)+1)
	messages = append(messages, s.TrimHistory(history)...)
	messages = append(messages, ai.ChatMessage{
		Role:    "user",
		Message: ai.WrapUserQuery(query),
	})

	stream, err := s.client.GenerateChatStream(ctx, messages,
		ai.WithSystemPrompts(system),
	)
	if err != nil {
		return err
	}

	var filter citationFilter
	for event := range stream {
		switch event.Type {
		case "step":
			if onStage != nil {
				if err := onStage(event.Step); err != nil {
					return err
				}
			}
		case "content":
			if err := filter.Consume(event.Content, onText, onCitation); err != nil {
				return err
			}
		}
	}
	return filter.Flush(onText)
}

// NoData produces the short "nothing found" reply used when every tool came
// back empty.
func (s *Synthesizer) NoData(ctx context.Context, query string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("ai client is nil")
	}
	prompt := fmt.Sprintf(ai.NoDataPrompt, ai.WrapUserQuery(query))
	return s.client.GenerateCompletion(ctx, prompt)
}
