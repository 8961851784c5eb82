// Package config assembles every runtime tunable from the environment into
// one explicit struct. The composition roots in cmd/ load it once and hand
// slices of it to constructors; no other package reads the environment.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
)

// Config is the full runtime configuration of the AI core.
type Config struct {
	DatabaseURL string
	RedisURL    string
	RabbitMQURL string
	Port        string
	Debug       bool

	AI     AIConfig
	Embed  EmbedConfig
	Intent IntentConfig
	Graph  GraphConfig
	Agent  AgentConfig
	RAG    RAGConfig
	Ingest IngestConfig
}

// AIConfig covers the two chat/embedding providers and the fallback chain.
type AIConfig struct {
	Enabled bool

	CloudModel string
	CloudURL   string
	CloudKey   string

	LocalModel string
	LocalURL   string
	LocalKey   string

	EmbedModel string
	EmbedDim   int

	Timeout    time.Duration
	MaxRetries int

	// ReasoningModels lists model names whose chain-of-thought must be
	// suppressed. Resolved into a capability table at startup.
	ReasoningModels []string
}

// CapabilityTable builds the model capability table from the configured
// reasoning-model list.
func (a AIConfig) CapabilityTable() *ai.CapabilityTable {
	entries := make(map[string]ai.ModelCapabilities, len(a.ReasoningModels))
	for _, model := range a.ReasoningModels {
		entries[model] = ai.ModelCapabilities{Reasoning: true}
	}
	return ai.NewCapabilityTable(entries)
}

// EmbedConfig bounds the embedding manager's cache and concurrency.
type EmbedConfig struct {
	CacheSize     int
	CacheTTL      time.Duration
	MaxConcurrent int64
}

// IntentConfig tunes the four-layer intent cascade.
type IntentConfig struct {
	RuleConfigPath  string
	RuleThreshold   float64
	VectorThreshold float64
	HistoryDays     int
}

// GraphConfig tunes entity resolution and graph query caching.
type GraphConfig struct {
	FuzzyMatchThreshold float64
	NERConfidence       float64

	CacheTTLDetail    time.Duration
	CacheTTLNeighbors time.Duration
	CacheTTLSearch    time.Duration
	CacheTTLStats     time.Duration
}

// AgentConfig bounds the agent tool loop.
type AgentConfig struct {
	MaxIterations int
	ToolTimeout   time.Duration
	StreamTimeout time.Duration
	RateLimit     int
	RateWindow    time.Duration
}

// RAGConfig tunes the plain retrieval fallback and synthesis context budget.
type RAGConfig struct {
	TopK                int
	SimilarityThreshold float64
	ContextTokens       int
	HistoryMaxTokens    int
}

// IngestConfig bounds batch graph ingestion.
type IngestConfig struct {
	BatchLimit  int
	CommitEvery int
}

// Load reads the whole configuration from the environment, applying the
// documented defaults for anything unset.
func Load() Config {
	return Config{
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		RedisURL:    util.GetEnv("REDIS_URL"),
		RabbitMQURL: util.GetEnv("RABBITMQ_URL"),
		Port:        util.GetEnvString("PORT", "8080"),
		Debug:       util.GetEnvBool("DEBUG", false),

		AI: AIConfig{
			Enabled: util.GetEnvBool("AI_ENABLED", true),

			CloudModel: util.GetEnvString("AI_CLOUD_MODEL", "gpt-4o-mini"),
			CloudURL:   util.GetEnv("OPENAI_BASE_URL"),
			CloudKey:   util.GetEnv("OPENAI_API_KEY"),

			LocalModel: util.GetEnvString("AI_LOCAL_MODEL", "qwen3:14b"),
			LocalURL:   util.GetEnv("AI_LOCAL_URL"),
			LocalKey:   util.GetEnv("AI_LOCAL_KEY"),

			EmbedModel: util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			EmbedDim:   int(util.GetEnvNumeric("AI_EMBED_DIM", 1536)),

			Timeout:    secondsEnv("AI_TIMEOUT", 60),
			MaxRetries: int(util.GetEnvNumeric("AI_MAX_RETRIES", 2)),

			ReasoningModels: csvEnv("AI_REASONING_MODELS", []string{"qwen3:14b", "deepseek-r1:14b"}),
		},

		Embed: EmbedConfig{
			CacheSize:     int(util.GetEnvNumeric("EMBED_CACHE_SIZE", 1000)),
			CacheTTL:      secondsEnv("EMBED_CACHE_TTL", 3600),
			MaxConcurrent: int64(util.GetEnvNumeric("EMBED_MAX_CONCURRENT", 5)),
		},

		Intent: IntentConfig{
			RuleConfigPath:  util.GetEnv("INTENT_RULE_CONFIG"),
			RuleThreshold:   floatEnv("INTENT_RULE_THRESHOLD", 0.85),
			VectorThreshold: floatEnv("INTENT_VECTOR_THRESHOLD", 0.88),
			HistoryDays:     int(util.GetEnvNumeric("INTENT_HISTORY_DAYS", 30)),
		},

		Graph: GraphConfig{
			FuzzyMatchThreshold: floatEnv("FUZZY_MATCH_THRESHOLD", 0.75),
			NERConfidence:       floatEnv("NER_CONFIDENCE_THRESHOLD", 0.5),

			CacheTTLDetail:    secondsEnv("GRAPH_CACHE_TTL_DETAIL", 300),
			CacheTTLNeighbors: secondsEnv("GRAPH_CACHE_TTL_NEIGHBORS", 300),
			CacheTTLSearch:    secondsEnv("GRAPH_CACHE_TTL_SEARCH", 120),
			CacheTTLStats:     secondsEnv("GRAPH_CACHE_TTL_STATS", 1800),
		},

		Agent: AgentConfig{
			MaxIterations: int(util.GetEnvNumeric("AGENT_MAX_ITERATIONS", 3)),
			ToolTimeout:   secondsEnv("AGENT_TOOL_TIMEOUT", 15),
			StreamTimeout: secondsEnv("AGENT_STREAM_TIMEOUT", 120),
			RateLimit:     int(util.GetEnvNumeric("AGENT_RATE_LIMIT", 10)),
			RateWindow:    secondsEnv("AGENT_RATE_WINDOW", 60),
		},

		RAG: RAGConfig{
			TopK:                int(util.GetEnvNumeric("RAG_TOP_K", 8)),
			SimilarityThreshold: floatEnv("RAG_SIMILARITY_THRESHOLD", 0.35),
			ContextTokens:       int(util.GetEnvNumeric("RAG_CONTEXT_TOKENS", 6000)),
			HistoryMaxTokens:    int(util.GetEnvNumeric("HISTORY_MAX_TOKENS", 2000)),
		},

		Ingest: IngestConfig{
			BatchLimit:  int(util.GetEnvNumeric("INGEST_BATCH_LIMIT", 50)),
			CommitEvery: int(util.GetEnvNumeric("INGEST_COMMIT_EVERY", 10)),
		},
	}
}

func secondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(util.GetEnvNumeric(key, defaultSeconds)) * time.Second
}

// floatEnv reads a fractional tunable. GetEnvNumeric only takes integer
// defaults, so thresholds parse the raw value themselves.
func floatEnv(key string, def float64) float64 {
	raw := util.GetEnv(key)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return value
}

func csvEnv(key string, def []string) []string {
	raw := util.GetEnv(key)
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
