package ollama

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 768
	defaultTimeout    = 5 * time.Minute
	// Ollama's default context window. Larger prompts raise num_ctx.
	defaultContextTokens = 4096
)

// GraphOllamaClient implements ai.GraphAIClient using Ollama as the backend
// for locally-hosted extraction and embedding models.
type GraphOllamaClient struct {
	ai.MetricsRecorder

	embeddingModel  string
	extractionModel string

	dim      int
	prefixes ai.EmbeddingPrefixes
	timeout  time.Duration
	reqLock  *semaphore.Weighted

	baseURL    *url.URL
	httpClient *http.Client

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string

	BaseURL string
	ApiKey  string

	EmbeddingDim          int
	Prefixes              ai.EmbeddingPrefixes
	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	var cli *api.Client
	if u != nil {
		cli = api.NewClient(u, httpClient)
	} else {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
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
		parallel = 1
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,

		dim:      dim,
		prefixes: params.Prefixes,
		timeout:  timeout,
		reqLock:  semaphore.NewWeighted(parallel),

		baseURL:    u,
		httpClient: httpClient,

		Client: cli,
	}, nil
}

// ModelName returns the extraction model identifier.
func (c *GraphOllamaClient) ModelName() string {
	return c.extractionModel
}

// EmbeddingDim returns the configured vector width.
func (c *GraphOllamaClient) EmbeddingDim() int {
	return c.dim
}

func wrapError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return &ai.StatusError{Provider: "ollama", StatusCode: se.StatusCode, Err: err}
	}
	return err
}
