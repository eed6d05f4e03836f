package graph

import (
	"context"
	"errors"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/store"
)

// Locker serializes extraction runs per sitting. pkg/leaselock implements
// it on a Postgres lease table.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// GraphClient is the write path of the knowledge graph. It windows a
// sitting, finds candidates, extracts, canonicalizes and applies deltas.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store         store.GraphStorage
	candidates    *CandidateRetriever
	extractor     *Extractor
	canonicalizer *Canonicalizer
	embedder      ai.EmbeddingProvider
	locker        Locker
	failures      FailureSink

	aiRetry    util.RetryPolicy
	storeRetry util.RetryPolicy

	windowSize     int
	stride         int
	contextSize    int
	filterShort    bool
	minUtterance   int
	discourse      bool
	parallelVideos int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Completion and Embedder are the model capabilities, Store the graph.
// Locker and Failures are optional. AIRetry wraps every completion and
// embedding call, StoreRetry every store call.
type NewGraphClientParams struct {
	Completion ai.CompletionProvider
	Embedder   ai.EmbeddingProvider
	Store      store.GraphStorage
	Locker     Locker
	Failures   FailureSink

	AIRetry    util.RetryPolicy
	StoreRetry util.RetryPolicy

	WindowSize         int
	Stride             int
	ContextSize        int
	TopK               int
	MaxCandidates      int
	TokenBudget        int
	MaxAddedEdges      int
	FilterShort        bool
	MinUtteranceLength int
	// SkipDiscourse disables discourse windows.
	SkipDiscourse  bool
	ParallelVideos int
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Completion:  aiClient,
//		Embedder:    aiClient,
//		Store:       storage,
//		AIRetry:     util.DefaultRetryPolicy().WithRetryable(ai.IsRetryable),
//		FilterShort: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	stats, err := client.ProcessVideo(ctx, "Syxyah7QIaM", graph.RunOptions{})
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Store == nil {
		return nil, errors.New("graph client: store is nil")
	}

	candidates, err := NewCandidateRetriever(NewCandidateRetrieverParams{
		Store:         params.Store,
		Embedder:      params.Embedder,
		AIRetry:       params.AIRetry,
		StoreRetry:    params.StoreRetry,
		TopK:          params.TopK,
		MaxCandidates: params.MaxCandidates,
		TokenBudget:   params.TokenBudget,
	})
	if err != nil {
		return nil, err
	}
	extractor, err := NewExtractor(NewExtractorParams{
		Completion:    params.Completion,
		Retry:         params.AIRetry,
		TokenBudget:   params.TokenBudget,
		MaxAddedEdges: params.MaxAddedEdges,
	})
	if err != nil {
		return nil, err
	}
	canonicalizer, err := NewCanonicalizer(NewCanonicalizerParams{
		Store:      params.Store,
		Embedder:   params.Embedder,
		AIRetry:    params.AIRetry,
		StoreRetry: params.StoreRetry,
	})
	if err != nil {
		return nil, err
	}

	g := &GraphClient{
		store:         params.Store,
		candidates:    candidates,
		extractor:     extractor,
		canonicalizer: canonicalizer,
		embedder:      params.Embedder,
		locker:        params.Locker,
		failures:      params.Failures,
		aiRetry:       params.AIRetry,
		storeRetry:    params.StoreRetry,

		windowSize:     params.WindowSize,
		stride:         params.Stride,
		contextSize:    params.ContextSize,
		filterShort:    params.FilterShort,
		minUtterance:   params.MinUtteranceLength,
		discourse:      !params.SkipDiscourse,
		parallelVideos: params.ParallelVideos,
	}
	if g.windowSize <= 0 {
		g.windowSize = DefaultWindowSize
	}
	if g.stride <= 0 {
		g.stride = DefaultStride
	}
	if g.contextSize <= 0 {
		g.contextSize = DefaultContextSize
	}
	if g.minUtterance <= 0 {
		g.minUtterance = DefaultMinUtteranceLength
	}
	if g.parallelVideos <= 0 {
		g.parallelVideos = 1
	}
	return g, nil
}
