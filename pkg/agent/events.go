// Package agent orchestrates answering a user question end to end: intent
// parsing, tool planning, bounded tool execution, and streamed synthesis
// with citations. Consumers receive the run as a stream of typed events.
package agent

import (
	"encoding/json"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
)

// EventType enumerates the stream events a query run can emit.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventSources    EventType = "sources"
	EventToken      EventType = "token"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Error codes carried by EventError payloads.
const (
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeStreamTimeout = "STREAM_TIMEOUT"
	ErrCodeServiceError  = "SERVICE_ERROR"
)

// Event is one message on the query stream.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ThinkingPayload narrates orchestration phases for the client UI. StepIndex
// increases monotonically across all step-bearing events of one run.
type ThinkingPayload struct {
	Stage     string `json:"stage"`
	Detail    string `json:"detail,omitempty"`
	StepIndex int    `json:"step_index,omitempty"`
}

// ToolCallPayload announces one tool invocation.
type ToolCallPayload struct {
	Tool      string          `json:"tool"`
	Params    json.RawMessage `json:"params,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	StepIndex int             `json:"step_index,omitempty"`
}

// ToolResultPayload reports the outcome of one tool invocation. A failed
// tool reports its error here with a zero count; the run continues.
type ToolResultPayload struct {
	Tool       string `json:"tool"`
	Count      int    `json:"count"`
	Summary    string `json:"summary,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	StepIndex  int    `json:"step_index,omitempty"`
}

// SourcesPayload lists the deduplicated documents backing the answer.
// RetrievalCount is the total rows retrieved before deduplication.
type SourcesPayload struct {
	Sources        []common.DocumentSource `json:"sources"`
	RetrievalCount int                     `json:"retrieval_count"`
}

// TokenPayload is one chunk of streamed answer text.
type TokenPayload struct {
	Text string `json:"text"`
}

// DonePayload closes every stream exactly once.
type DonePayload struct {
	LatencyMs  int64    `json:"latency_ms"`
	Model      string   `json:"model,omitempty"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
	Iterations int      `json:"iterations"`
	Strategy   string   `json:"strategy,omitempty"`
}

// ErrorPayload reports a terminal run error. A done event still follows.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EmitFunc receives stream events in order. Returning an error aborts the
// run; the client is assumed gone.
type EmitFunc func(Event) error
