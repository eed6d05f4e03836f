package openai

import (
	"errors"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions     = 768
	defaultTimeout        = 5 * time.Minute
	defaultMaxConcurrency = 4
)

// GraphOpenAIClient talks to any OpenAI compatible endpoint. It manages
// separate clients for embeddings and chat so the two can live on different
// hosts (e.g. a hosted chat model with a local embedding server).
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	ai.MetricsRecorder

	embeddingModel  string
	extractionModel string

	embeddingURL string
	chatURL      string

	dim      int
	prefixes ai.EmbeddingPrefixes
	timeout  time.Duration
	reqLock  *semaphore.Weighted

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for creating
// a new GraphOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings.
// ExtractionModel specifies the model used for knowledge graph extraction.
// EmbeddingURL and EmbeddingKey configure the embedding API endpoint.
// ChatURL and ChatKey configure the chat/completion API endpoint.
// EmbeddingDim is the vector width stored in the graph (default 768).
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	EmbeddingDim          int
	Prefixes              ai.EmbeddingPrefixes
	Timeout               time.Duration
	MaxConcurrentRequests int64
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "nomic-embed-text",
//		ExtractionModel: "gpt-oss-120b",
//		EmbeddingURL:    "http://localhost:8081/v1",
//		EmbeddingKey:    "local",
//		ChatURL:         "https://api.openai.com/v1",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) (*GraphOpenAIClient, error) {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)
	if chatClient == nil && embedClient == nil {
		return nil, errors.New("openai: neither chat nor embedding key configured")
	}

	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = defaultMaxConcurrency
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,

		chatURL:      params.ChatURL,
		embeddingURL: params.EmbeddingURL,

		dim:      dim,
		prefixes: params.Prefixes,
		timeout:  timeout,
		reqLock:  semaphore.NewWeighted(parallel),

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}, nil
}

// ModelName returns the extraction model identifier.
func (c *GraphOpenAIClient) ModelName() string {
	return c.extractionModel
}

// EmbeddingDim returns the configured vector width.
func (c *GraphOpenAIClient) EmbeddingDim() int {
	return c.dim
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
		// Retries are driven by the caller's RetryPolicy.
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ai.StatusError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
