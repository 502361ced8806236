package openai

import (
	"sync"

	"github.com/tracemap/cartograph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIClient implements ai.Client against OpenAI-compatible APIs. It keeps
// separate clients for chat/completion and embedding endpoints so the two can
// point at different providers.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	extractionModel string
	embeddingModel  string

	chatURL      string
	chatKey      string
	embeddingURL string
	embeddingKey string

	timeoutMin int

	reqLock *semaphore.Weighted
	limiter *ai.RequestLimiter

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewOpenAIClientParams defines the configuration parameters for creating a
// new OpenAIClient.
//
// ExtractionModel is used for completions, EmbeddingModel for embeddings.
// ChatURL/ChatKey and EmbeddingURL/EmbeddingKey configure the two endpoints;
// an empty URL falls back to the official API. MaxConcurrentRequests bounds
// in-flight requests and RequestsPerSecond caps the request rate (0 disables
// the cap). TimeoutMinutes bounds every single call.
type NewOpenAIClientParams struct {
	ExtractionModel string
	EmbeddingModel  string

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	TimeoutMinutes        int
	MaxConcurrentRequests int64
	RequestsPerSecond     float64
}

// NewOpenAIClient creates and returns a new OpenAIClient configured with the
// provided parameters.
//
// Example:
//
//	params := openai.NewOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		EmbeddingModel:  "text-embedding-3-small",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewOpenAIClient(params)
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	chatClient := newAPIClient(params.ChatURL, params.ChatKey)
	embedClient := newAPIClient(params.EmbeddingURL, params.EmbeddingKey)

	timeoutMin := params.TimeoutMinutes
	if timeoutMin <= 0 {
		timeoutMin = 5
	}
	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	return &OpenAIClient{
		extractionModel: params.ExtractionModel,
		embeddingModel:  params.EmbeddingModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,

		timeoutMin: timeoutMin,

		reqLock: semaphore.NewWeighted(maxConcurrent),
		limiter: ai.NewRequestLimiter(params.RequestsPerSecond, int(maxConcurrent)),

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newAPIClient(
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
