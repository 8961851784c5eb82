package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxIterations = 3
	defaultStreamTimeout = 120 * time.Second

	// eventBuffer absorbs bursts between the run goroutine and the client
	// writer so tool results never block on a slow connection.
	eventBuffer = 64
)

// HistorySaver persists completed searches. Matches intent.HistoryStore.
type HistorySaver interface {
	Save(ctx context.Context, query string, parsed intent.ParsedIntent,
		embedding []float32, resultCount int, strategy string) (string, error)
}

// Orchestrator runs the full answer pipeline for one query: chitchat
// short-circuit, rate limiting, intent parsing and planning in parallel, a
// bounded tool loop, and streamed synthesis.
type Orchestrator struct {
	client   ai.Client
	parser   *intent.Parser
	planner  *Planner
	tools    ToolRunner
	synth    *Synthesizer
	limiter  *RateLimiter
	history  HistorySaver
	embedder Embedder

	model         string
	maxIterations int
	streamTimeout time.Duration
}

// OrchestratorParams wires the orchestrator's collaborators. Limiter,
// history, and embedder are optional; zero bounds select defaults.
type OrchestratorParams struct {
	Client   ai.Client
	Parser   *intent.Parser
	Planner  *Planner
	Tools    ToolRunner
	Synth    *Synthesizer
	Limiter  *RateLimiter
	History  HistorySaver
	Embedder Embedder

	Model         string
	MaxIterations int
	StreamTimeout time.Duration
}

func NewOrchestrator(params OrchestratorParams) *Orchestrator {
	if params.MaxIterations <= 0 {
		params.MaxIterations = defaultMaxIterations
	}
	if params.StreamTimeout <= 0 {
		params.StreamTimeout = defaultStreamTimeout
	}
	return &Orchestrator{
		client:        params.Client,
		parser:        params.Parser,
		planner:       params.Planner,
		tools:         params.Tools,
		synth:         params.Synth,
		limiter:       params.Limiter,
		history:       params.History,
		embedder:      params.Embedder,
		model:         params.Model,
		maxIterations: params.MaxIterations,
		streamTimeout: params.StreamTimeout,
	}
}

// QueryRequest is one streamed agent query.
type QueryRequest struct {
	Query   string
	UserKey string
	History []ai.ChatMessage
}

// StreamQuery executes the request and delivers events through emit.
// Exactly one done event ends every stream, including error and timeout
// paths. The error return reports only transport failure (client gone);
// run-level failures surface as error events.
func (o *Orchestrator) StreamQuery(ctx context.Context, req QueryRequest, emit EmitFunc) error {
	start := time.Now()

	events := make(chan Event, eventBuffer)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(events)
		// A panicking run must still close out the client's state machine
		// instead of taking the process down.
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("[Agent] Run panicked", "panic", r)
			closing := []Event{
				{Type: EventError, Payload: ErrorPayload{
					Code:    ErrCodeServiceError,
					Message: "internal error while answering",
				}},
				doneEvent(start, nil, 0, ""),
			}
			for _, event := range closing {
				select {
				case events <- event:
				case <-runCtx.Done():
					return
				}
			}
		}()
		o.run(runCtx, req, start, events)
	}()

	timeout := time.NewTimer(o.streamTimeout)
	defer timeout.Stop()

	doneSent := false
	for {
		select {
		case event, ok := <-events:
			if !ok {
				if !doneSent {
					return emit(doneEvent(start, nil, 0, ""))
				}
				return nil
			}
			if event.Type == EventDone {
				if doneSent {
					continue
				}
				doneSent = true
			}
			if err := emit(event); err != nil {
				cancel()
				return err
			}

		case <-timeout.C:
			cancel()
			// Deliver whatever the run already produced, then close out.
			for event := range events {
				if event.Type == EventDone {
					continue
				}
				if err := emit(event); err != nil {
					return err
				}
			}
			logger.Warn("[Agent] Stream timed out", "timeout", o.streamTimeout)
			if err := emit(Event{Type: EventError, Payload: ErrorPayload{
				Code:    ErrCodeStreamTimeout,
				Message: "the answer took too long to generate",
			}}); err != nil {
				return err
			}
			return emit(doneEvent(start, nil, 0, ""))

		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
	}
}

func doneEvent(start time.Time, tools []string, iterations int, strategy string) Event {
	return Event{Type: EventDone, Payload: DonePayload{
		LatencyMs:  time.Since(start).Milliseconds(),
		ToolsUsed:  tools,
		Iterations: iterations,
		Strategy:   strategy,
	}}
}

// run drives the pipeline, writing events to the channel. It always ends
// with a done event; StreamQuery deduplicates.
func (o *Orchestrator) run(ctx context.Context, req QueryRequest, start time.Time, events chan<- Event) {
	send := func(event Event) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(code, message string) {
		send(Event{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}})
		send(doneEvent(start, nil, 0, ""))
	}

	// One counter numbers every step-bearing event of the run.
	steps := 0
	nextStep := func() int {
		steps++
		return steps
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		fail(ErrCodeServiceError, "query is empty")
		return
	}

	if IsChitchat(query) {
		o.runChitchat(ctx, query, start, send)
		return
	}

	if o.limiter != nil && req.UserKey != "" && !o.limiter.Allow(req.UserKey) {
		logger.Info("[Agent] Rate limited", "user", req.UserKey)
		fail(ErrCodeRateLimited, "too many queries, slow down")
		return
	}

	send(Event{Type: EventThinking, Payload: ThinkingPayload{
		Stage:     "parsing",
		StepIndex: nextStep(),
	}})

	// Intent parse and initial plan run concurrently; the parsed intent is
	// merged into the plan afterwards.
	var (
		parsed intent.ParsedIntent
		source string
		plan   Plan
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parsed, source = o.parser.Parse(gctx, query)
		return nil
	})
	g.Go(func() error {
		plan = o.planner.Plan(gctx, query, intent.ParsedIntent{}, historyText(req.History))
		return nil
	})
	g.Wait()
	if ctx.Err() != nil {
		return
	}
	plan = MergeIntentHints(plan, parsed)

	trace := NewRunTrace()
	var allResults []ToolResult
	iterations := 0

	if len(plan.Steps) == 0 {
		// The model decided no tools are needed: retrieve once directly and
		// synthesize, skipping the tool loop entirely.
		send(Event{Type: EventThinking, Payload: ThinkingPayload{
			Stage:     "retrieving",
			StepIndex: nextStep(),
		}})
		ragPlan := MergeIntentHints(FallbackPlan(parsed, query), parsed)
		allResults = o.tools.Execute(ctx, ragPlan)
		for _, res := range allResults {
			trace.RecordToolCall(res.Step.Tool, res.Count)
			for _, src := range res.Sources {
				trace.RecordConsidered(src.PublicID)
			}
		}
	} else {
		send(Event{Type: EventThinking, Payload: ThinkingPayload{
			Stage:     "planning",
			Detail:    planSummary(plan),
			StepIndex: nextStep(),
		}})

		for iterations < o.maxIterations && len(plan.Steps) > 0 {
			iterations++

			for _, step := range plan.Steps {
				params, _ := json.Marshal(step.Params)
				if !send(Event{Type: EventToolCall, Payload: ToolCallPayload{
					Tool:      step.Tool,
					Params:    params,
					Reason:    step.Reason,
					StepIndex: nextStep(),
				}}) {
					return
				}
			}

			results := o.tools.Execute(ctx, plan)
			for _, res := range results {
				payload := ToolResultPayload{
					Tool:       res.Step.Tool,
					Count:      res.Count,
					Summary:    summarizeResult(res),
					DurationMs: res.Duration.Milliseconds(),
					StepIndex:  nextStep(),
				}
				if res.Err != nil {
					payload.Error = res.Err.Error()
				}
				if !send(Event{Type: EventToolResult, Payload: payload}) {
					return
				}
				trace.RecordToolCall(res.Step.Tool, res.Count)
				for _, src := range res.Sources {
					trace.RecordConsidered(src.PublicID)
				}
			}
			allResults = append(allResults, results...)

			next, again := Replan(plan, results)
			if !again {
				break
			}
			send(Event{Type: EventThinking, Payload: ThinkingPayload{
				Stage:     "replanning",
				Detail:    planSummary(next),
				StepIndex: nextStep(),
			}})
			plan = next
		}
	}

	sources := collectSources(allResults)
	if len(sources) > 0 {
		retrieved := 0
		for _, res := range allResults {
			retrieved += res.Count
		}
		if !send(Event{Type: EventSources, Payload: SourcesPayload{
			Sources:        sources,
			RetrievalCount: retrieved,
		}}) {
			return
		}
	}

	send(Event{Type: EventThinking, Payload: ThinkingPayload{
		Stage:     "synthesizing",
		StepIndex: nextStep(),
	}})

	snapshot := o.synthesize(ctx, query, req.History, allResults, trace, send)
	o.saveHistory(ctx, query, parsed, source, snapshot)

	send(Event{Type: EventDone, Payload: DonePayload{
		LatencyMs:  time.Since(start).Milliseconds(),
		Model:      o.model,
		ToolsUsed:  snapshot.ToolsUsed,
		Iterations: iterations,
		Strategy:   source,
	}})
}

// synthesize streams the answer (or the no-data reply) and returns the
// final trace snapshot.
func (o *Orchestrator) synthesize(
	ctx context.Context,
	query string,
	history []ai.ChatMessage,
	results []ToolResult,
	trace *RunTrace,
	send func(Event) bool,
) TraceSnapshot {
	data := o.synth.BuildContext(results)

	if strings.TrimSpace(data) == "" {
		reply, err := o.synth.NoData(ctx, query)
		if err != nil {
			logger.Warn("[Agent] No-data reply failed", "error", err)
			reply = "找不到符合的資料。"
		}
		send(Event{Type: EventToken, Payload: TokenPayload{Text: reply}})
		return trace.Snapshot()
	}

	err := o.synth.Stream(ctx, query, data, history,
		func(stage string) error {
			send(Event{Type: EventThinking, Payload: ThinkingPayload{Stage: stage}})
			return nil
		},
		func(text string) error {
			if !send(Event{Type: EventToken, Payload: TokenPayload{Text: text}}) {
				return context.Canceled
			}
			return nil
		},
		func(id string) error {
			trace.RecordCited(id)
			send(Event{Type: EventToken, Payload: TokenPayload{Text: "[[" + id + "]]"}})
			return nil
		},
	)
	if err != nil && ctx.Err() == nil {
		logger.Warn("[Agent] Synthesis failed", "error", err)
		send(Event{Type: EventError, Payload: ErrorPayload{
			Code:    ErrCodeServiceError,
			Message: "failed to generate the answer",
		}})
	}
	return trace.Snapshot()
}

// runChitchat answers a greeting without touching retrieval.
func (o *Orchestrator) runChitchat(ctx context.Context, query string, start time.Time, send func(Event) bool) {
	system := fmt.Sprintf(ai.ChitchatPrompt, ai.WrapUserQuery(query))
	reply, err := o.client.GenerateChat(ctx, []ai.ChatMessage{
		{Role: "user", Message: query},
	}, ai.WithSystemPrompts(system))
	if err != nil {
		// The connector degrades to a canned reply; an error here means
		// even that path failed.
		logger.Warn("[Agent] Chitchat reply failed", "error", err)
		reply = "您好！需要查詢公文、派工單或相關單位資料嗎？"
	}
	send(Event{Type: EventToken, Payload: TokenPayload{Text: reply}})
	send(doneEvent(start, nil, 0, "chitchat"))
}

// saveHistory records the search for the intent cascade's vector layer.
// Best effort; failures only log.
func (o *Orchestrator) saveHistory(ctx context.Context, query string, parsed intent.ParsedIntent, source string, snapshot TraceSnapshot) {
	if o.history == nil {
		return
	}

	var embeddingVec []float32
	if o.embedder != nil {
		if vec, err := o.embedder.GetEmbedding(ctx, query); err == nil {
			embeddingVec = vec
		}
	}
	if _, err := o.history.Save(ctx, query, parsed, embeddingVec, snapshot.ResultCount, source); err != nil {
		logger.Debug("[Agent] History save failed", "error", err)
	}
}

func collectSources(results []ToolResult) []common.DocumentSource {
	seen := make(map[string]bool)
	var out []common.DocumentSource
	for _, res := range results {
		for _, src := range res.Sources {
			if src.PublicID == "" || seen[src.PublicID] {
				continue
			}
			seen[src.PublicID] = true
			out = append(out, src)
		}
	}
	return out
}

// summarizeResult condenses a tool result into the one-line summary carried
// by the tool_result event. Errors are reported in their own field.
func summarizeResult(res ToolResult) string {
	if res.Err != nil {
		return ""
	}
	for _, line := range strings.Split(res.Markdown, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 80 {
			line = string(r[:80])
		}
		return line
	}
	return fmt.Sprintf("%d results", res.Count)
}

func planSummary(plan Plan) string {
	names := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		names = append(names, step.Tool)
	}
	return strings.Join(names, ", ")
}

func historyText(history []ai.ChatMessage) string {
	if len(history) == 0 {
		return ""
	}
	// The planner only needs a sketch of the recent exchange.
	const keep = 4
	msgs := history
	if len(msgs) > keep {
		msgs = msgs[len(msgs)-keep:]
	}
	var sb strings.Builder
	for _, msg := range msgs {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}
