package openai

import (
	"errors"
	"sync"

	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// MissiveOpenAIClient is the cloud-provider client for the missive AI core.
// It manages separate OpenAI API clients for chat/completion and embedding
// tasks, which may point at different endpoints.
//
// A MissiveOpenAIClient should be created using NewMissiveOpenAIClient.
type MissiveOpenAIClient struct {
	chatModel      string
	embeddingModel string

	chatURL      string
	chatKey      string
	embeddingURL string
	embeddingKey string

	timeoutMin    int64
	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewMissiveOpenAIClientParams defines the configuration parameters for
// creating a new MissiveOpenAIClient.
//
// ChatModel is the default model for chat and completion calls.
// EmbeddingModel is the model used for embedding requests.
// ChatURL/ChatKey and EmbeddingURL/EmbeddingKey configure the two endpoints;
// an empty URL means the provider default.
type NewMissiveOpenAIClientParams struct {
	ChatModel      string
	EmbeddingModel string

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	TimeoutMinutes          int64
	MaxConcurrentEmbeddings int64
}

// NewMissiveOpenAIClient creates and returns a new MissiveOpenAIClient
// configured with the provided parameters.
//
// Example:
//
//	params := openai.NewMissiveOpenAIClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewMissiveOpenAIClient(params)
func NewMissiveOpenAIClient(
	params NewMissiveOpenAIClientParams,
) *MissiveOpenAIClient {
	if params.TimeoutMinutes <= 0 {
		params.TimeoutMinutes = 1
	}
	if params.MaxConcurrentEmbeddings <= 0 {
		params.MaxConcurrentEmbeddings = 5
	}

	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)

	return &MissiveOpenAIClient{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,

		timeoutMin:    params.TimeoutMinutes,
		embeddingLock: semaphore.NewWeighted(params.MaxConcurrentEmbeddings),

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// wrapErr classifies a raw API failure into an ai.ProviderError so the
// fallback chain can switch on error kind instead of error text.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ai.NewProviderError("openai", apiErr.StatusCode, err)
	}
	return ai.NewProviderError("openai", 0, err)
}
