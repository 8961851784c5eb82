package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRuleThreshold   = 0.85
	defaultVectorThreshold = 0.88
	defaultHistoryDays     = 30

	// vectorFloor is the minimum similarity for a history row to contribute
	// to the merge at all; rows below it are ignored.
	vectorFloor = 0.80

	// llmCacheTTL bounds how long an LLM parse is reused for the identical
	// normalized query.
	llmCacheTTL = 10 * time.Minute

	vectorCandidates = 3
)

// Embedder provides query embeddings for the vector layer.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// HistorySearcher finds similar past searches for the vector layer.
type HistorySearcher interface {
	FindSimilar(ctx context.Context, embedding []float32, days, limit int) ([]Record, error)
}

// Parser runs the four-layer intent cascade. Layers that are not wired
// (nil history, nil client) are skipped; Parse always produces an intent.
type Parser struct {
	engine  *Engine
	history HistorySearcher
	embed   Embedder
	client  ai.Client
	cache   *redis.Client

	ruleThreshold   float64
	vectorThreshold float64
	historyDays     int

	now func() time.Time
}

// Params configures a Parser. Zero thresholds select the defaults.
type Params struct {
	Engine          *Engine
	History         HistorySearcher
	Embedder        Embedder
	Client          ai.Client
	Redis           *redis.Client
	RuleThreshold   float64
	VectorThreshold float64
	HistoryDays     int
}

// NewParser creates a Parser from the given collaborators.
func NewParser(params Params) *Parser {
	engine := params.Engine
	if engine == nil {
		engine = NewEngine(nil)
	}
	if params.RuleThreshold <= 0 {
		params.RuleThreshold = defaultRuleThreshold
	}
	if params.VectorThreshold <= 0 {
		params.VectorThreshold = defaultVectorThreshold
	}
	if params.HistoryDays <= 0 {
		params.HistoryDays = defaultHistoryDays
	}
	return &Parser{
		engine:          engine,
		history:         params.History,
		embed:           params.Embedder,
		client:          params.Client,
		cache:           params.Redis,
		ruleThreshold:   params.RuleThreshold,
		vectorThreshold: params.VectorThreshold,
		historyDays:     params.HistoryDays,
		now:             time.Now,
	}
}

// Parse resolves a query into a structured intent and reports which cascade
// layer produced it. It never fails: every degradation path ends in a usable
// intent, at worst the raw query as a keyword with zero confidence.
func (p *Parser) Parse(ctx context.Context, query string) (ParsedIntent, string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return ParsedIntent{}, SourceFallback
	}

	layers := make([]LayerIntent, 0, 3)

	ruleIntent, ruleMatched := p.engine.Match(query)
	if ruleMatched && ruleIntent.Confidence >= p.ruleThreshold {
		p.postProcess(query, &ruleIntent)
		return ruleIntent, SourceRuleEngine
	}
	if ruleMatched {
		layers = append(layers, LayerIntent{Source: SourceRuleEngine, Intent: ruleIntent})
	}

	if vecIntent, similarity, ok := p.vectorMatch(ctx, query); ok {
		if similarity >= p.vectorThreshold {
			p.postProcess(query, &vecIntent)
			return vecIntent, SourceVector
		}
		layers = append(layers, LayerIntent{Source: SourceVector, Intent: vecIntent})
	}

	if p.client != nil {
		llmIntent, err := p.llmParse(ctx, query)
		if err != nil {
			logger.Warn("[Intent] llm parse failed, degrading", "error", err)
		} else {
			layers = append(layers, LayerIntent{Source: SourceLLM, Intent: llmIntent})
		}
	}

	var (
		intent ParsedIntent
		source string
	)
	switch len(layers) {
	case 0:
		source = SourceFallback
	case 1:
		intent = layers[0].Intent
		source = layers[0].Source
	default:
		intent = MergeIntents(layers)
		source = SourceMerged
	}

	p.postProcess(query, &intent)
	return intent, source
}

// vectorMatch embeds the query and reuses the intent of the most similar
// recent successful search, scaled by its stored confidence. Any failure in
// this layer is a silent skip.
func (p *Parser) vectorMatch(ctx context.Context, query string) (ParsedIntent, float64, bool) {
	if p.embed == nil || p.history == nil {
		return ParsedIntent{}, 0, false
	}

	embedding, err := p.embed.GetEmbedding(ctx, query)
	if err != nil || embedding == nil {
		if err != nil {
			logger.Debug("[Intent] query embedding failed", "error", err)
		}
		return ParsedIntent{}, 0, false
	}

	records, err := p.history.FindSimilar(ctx, embedding, p.historyDays, vectorCandidates)
	if err != nil {
		logger.Debug("[Intent] history lookup failed", "error", err)
		return ParsedIntent{}, 0, false
	}

	for _, record := range records {
		if record.Similarity < vectorFloor {
			continue
		}
		intent := record.Intent
		intent.Confidence = record.Confidence * record.Similarity
		if intent.Confidence > 1 {
			intent.Confidence = 1
		}
		return intent, record.Similarity, true
	}
	return ParsedIntent{}, 0, false
}

// llmIntentResponse mirrors the JSON contract of the intent prompt.
type llmIntentResponse struct {
	Keywords       []string `json:"keywords" jsonschema_description:"Content terms to match against document subject and body"`
	DocType        string   `json:"doc_type" jsonschema_description:"Official document class such as 函 or 公告, empty when not stated"`
	Category       string   `json:"category" jsonschema_description:"Document category when the query names one"`
	Sender         string   `json:"sender" jsonschema_description:"Issuing agency or person"`
	Receiver       string   `json:"receiver" jsonschema_description:"Receiving agency or person"`
	DateFrom       string   `json:"date_from" jsonschema_description:"Start of the date range, Gregorian YYYY-MM-DD"`
	DateTo         string   `json:"date_to" jsonschema_description:"End of the date range, Gregorian YYYY-MM-DD"`
	Status         string   `json:"status" jsonschema_description:"Processing status when stated"`
	ContractCase   string   `json:"contract_case" jsonschema_description:"Contract or case identifier when present"`
	SearchDispatch bool     `json:"search_dispatch" jsonschema_description:"True when the query targets dispatch work orders"`
	Confidence     float64  `json:"confidence" jsonschema_description:"How completely the query mapped onto the fields, 0.0-1.0"`
}

// promptSanitizer neutralizes characters that could break out of the prompt
// structure, mapping them to harmless full-width equivalents.
var promptSanitizer = strings.NewReplacer(
	"{", "｛",
	"}", "｝",
	"`", "'",
	"<", "〈",
	">", "〉",
)

// llmParse sends the sanitized query through the structured intent prompt.
// Responses are cached briefly by normalized query when Redis is wired.
func (p *Parser) llmParse(ctx context.Context, query string) (ParsedIntent, error) {
	cacheKey := llmCacheKey(query)
	if cached, ok := p.cachedLLMResponse(ctx, cacheKey); ok {
		return cached.toIntent(), nil
	}

	wrapped := fmt.Sprintf("<user_query>%s</user_query>", promptSanitizer.Replace(query))
	prompt := fmt.Sprintf(ai.IntentPrompt, p.now().Format("2006-01-02"), wrapped)

	var res llmIntentResponse
	err := p.client.GenerateCompletionWithFormat(
		ctx,
		"parse_search_intent",
		"Extract structured search filters from a user query.",
		prompt,
		&res,
	)
	if err != nil {
		return ParsedIntent{}, err
	}

	p.storeLLMResponse(ctx, cacheKey, res)
	return res.toIntent(), nil
}

func (r llmIntentResponse) toIntent() ParsedIntent {
	intent := ParsedIntent{
		Keywords:       dedupeKeywords(r.Keywords),
		DocType:        strings.TrimSpace(r.DocType),
		Category:       strings.TrimSpace(r.Category),
		Sender:         strings.TrimSpace(r.Sender),
		Receiver:       strings.TrimSpace(r.Receiver),
		Status:         strings.TrimSpace(r.Status),
		ContractCase:   strings.TrimSpace(r.ContractCase),
		SearchDispatch: r.SearchDispatch,
		Confidence:     r.Confidence,
	}
	if _, err := time.Parse("2006-01-02", r.DateFrom); err == nil {
		intent.DateFrom = r.DateFrom
	}
	if _, err := time.Parse("2006-01-02", r.DateTo); err == nil {
		intent.DateTo = r.DateTo
	}
	if intent.Confidence < 0 {
		intent.Confidence = 0
	}
	if intent.Confidence > 1 {
		intent.Confidence = 1
	}
	return intent
}

func llmCacheKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "intent:llm:" + hex.EncodeToString(sum[:])
}

func (p *Parser) cachedLLMResponse(ctx context.Context, key string) (llmIntentResponse, bool) {
	if p.cache == nil {
		return llmIntentResponse{}, false
	}
	data, err := p.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("[Intent] llm cache read failed", "error", err)
		}
		return llmIntentResponse{}, false
	}
	var res llmIntentResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return llmIntentResponse{}, false
	}
	return res, true
}

func (p *Parser) storeLLMResponse(ctx context.Context, key string, res llmIntentResponse) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, data, llmCacheTTL).Err(); err != nil {
		logger.Debug("[Intent] llm cache write failed", "error", err)
	}
}

// postProcess applies the source-independent cleanup pass: synonym and agency
// expansion, dispatch detection, keyword dedupe, and the two recovery
// heuristics for queries that extracted little or nothing.
func (p *Parser) postProcess(query string, intent *ParsedIntent) {
	intent.Keywords = expandSynonyms(intent.Keywords)
	intent.Sender = expandAgency(intent.Sender)
	intent.Receiver = expandAgency(intent.Receiver)

	if !intent.SearchDispatch && mentionsDispatch(query) {
		intent.SearchDispatch = true
	}

	intent.Keywords = dedupeKeywords(intent.Keywords)

	if intent.IsEmpty() {
		intent.Keywords = []string{query}
		return
	}
	if intent.Confidence < 0.5 && len(intent.Keywords) == 0 {
		intent.Keywords = dedupeKeywords(p.residualKeywords(query, intent))
	}
}

// residualKeywords synthesizes keywords from the query text left over after
// removing the values already captured into structured fields.
func (p *Parser) residualKeywords(query string, intent *ParsedIntent) []string {
	residual := query
	for _, captured := range []string{
		intent.Sender, intent.Receiver, intent.DocType,
		intent.Status, intent.ContractCase, intent.Category,
	} {
		if captured != "" {
			residual = strings.ReplaceAll(residual, captured, " ")
		}
	}
	residual = datePhrases.ReplaceAllString(residual, " ")
	return ExtractKeywords(residual)
}
