// Package app wires the engine's clients from the environment for the
// worker, server and CLI binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hansard-kg/engine/internal/storage"
	"github.com/hansard-kg/engine/internal/timing"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/ai/cache"
	oai "github.com/hansard-kg/engine/pkg/ai/ollama"
	gai "github.com/hansard-kg/engine/pkg/ai/openai"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/leaselock"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/logger/console"
	"github.com/hansard-kg/engine/pkg/mirror"
	"github.com/hansard-kg/engine/pkg/query"
	pgstore "github.com/hansard-kg/engine/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultEmbeddingDim = 768

// InitLogger loads .env and installs the console logger. DEBUG enables
// debug output and LOG_FORMAT=json switches to JSON lines.
func InitLogger(prefix string) {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   strings.EqualFold(util.GetEnv("LOG_FORMAT"), "json"),
		Prefix: prefix,
	}))
}

// Clients holds the long lived handles shared by every binary.
type Clients struct {
	AI       ai.GraphAIClient
	Embedder ai.EmbeddingProvider
	Pool     *pgxpool.Pool
	Store    *pgstore.GraphDBStorage

	cache *cache.RedisStore
}

// WireClients connects the AI provider, the optional query embedding cache
// and the database.
func WireClients(ctx context.Context) (*Clients, error) {
	logger.Debug("Wiring clients...")

	aiClient, err := NewAIClient()
	if err != nil {
		return nil, fmt.Errorf("init ai client: %w", err)
	}
	c := &Clients{AI: aiClient, Embedder: aiClient}

	if addr := strings.TrimSpace(util.GetEnv("REDIS_ADDR")); addr != "" {
		rs, err := cache.NewRedisStore(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		c.cache = rs
		namespace := util.GetEnvString("AI_EMBED_MODEL", "embed") + fmt.Sprintf(":%d", aiClient.EmbeddingDim())
		c.Embedder = cache.NewCachedEmbedder(aiClient, rs, namespace, util.GetEnvDuration("REDIS_TTL", 24*time.Hour))
	}

	pool, err := pgstore.NewPool(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Pool = pool

	st, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool, pgstore.WithEmbeddingDim(aiClient.EmbeddingDim()))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init graph storage: %w", err)
	}
	c.Store = st
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewAIClient picks the provider adapter from AI_ADAPTER.
func NewAIClient() (ai.GraphAIClient, error) {
	dim := util.GetEnvInt("AI_EMBED_DIM", defaultEmbeddingDim)
	prefixes := ai.EmbeddingPrefixesFromEnv()
	timeout := time.Duration(util.GetEnvInt("AI_TIMEOUT_MIN", 0)) * time.Minute
	parallel := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15))

	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			EmbeddingDim:          dim,
			Prefixes:              prefixes,
			Timeout:               timeout,
			MaxConcurrentRequests: parallel,
		})
	case "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			EmbeddingDim:          dim,
			Prefixes:              prefixes,
			Timeout:               timeout,
			MaxConcurrentRequests: parallel,
		})
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// AIRetry retries provider calls on transient provider errors.
func AIRetry() util.RetryPolicy {
	return util.RetryPolicyFromEnv().WithRetryable(ai.IsRetryable)
}

// StoreRetry retries database calls on transient connection and
// serialization errors.
func StoreRetry() util.RetryPolicy {
	return util.RetryPolicyFromEnv().WithRetryable(pgstore.IsTransient)
}

// GraphParams reads the extraction tuning from KG_* variables. Zero values
// fall back to the graph package defaults.
func (c *Clients) GraphParams() graph.NewGraphClientParams {
	return graph.NewGraphClientParams{
		Completion: c.AI,
		Embedder:   c.Embedder,
		Store:      c.Store,
		AIRetry:    AIRetry(),
		StoreRetry: StoreRetry(),

		WindowSize:     util.GetEnvInt("KG_WINDOW_SIZE", graph.DefaultWindowSize),
		Stride:         util.GetEnvInt("KG_STRIDE", graph.DefaultStride),
		ContextSize:    util.GetEnvInt("KG_CONTEXT_SIZE", graph.DefaultContextSize),
		TopK:           util.GetEnvInt("KG_TOP_K", graph.DefaultTopK),
		MaxCandidates:  util.GetEnvInt("KG_MAX_CANDIDATES", graph.DefaultMaxCandidates),
		FilterShort:    util.GetEnvBool("KG_FILTER_SHORT", true),
		ParallelVideos: util.GetEnvInt("KG_PARALLEL_VIDEOS", 1),
	}
}

// Budget reads KG_MAX_WINDOWS and KG_MAX_DURATION.
func Budget() timing.Budget {
	return timing.Budget{
		MaxWindows:  util.GetEnvInt("KG_MAX_WINDOWS", 0),
		MaxDuration: util.GetEnvDuration("KG_MAX_DURATION", 0),
	}
}

// NewLocker returns a lease client on the pool. Holders are tagged with the
// host name so a stuck lease can be traced to its worker.
func (c *Clients) NewLocker() *leaselock.Client {
	host, _ := os.Hostname()
	return leaselock.New(c.Pool, leaselock.Options{TokenPrefix: host + ":"})
}

// NewFailureSink stores failure records in AWS_BUCKET when set, otherwise in
// dir (or KG_FAILURE_DIR). It returns nil when neither is configured.
func NewFailureSink(ctx context.Context, dir string) (graph.FailureSink, error) {
	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewFailureStore(client, bucket)
	}
	if dir == "" {
		dir = util.GetEnv("KG_FAILURE_DIR")
	}
	if dir == "" {
		return nil, nil
	}
	return graph.DirSink{Dir: dir}, nil
}

// NewRetriever builds the query retriever on the shared clients.
func (c *Clients) NewRetriever() (*query.Retriever, error) {
	return query.NewRetriever(query.NewRetrieverParams{
		Store:      c.Store,
		Embedder:   c.Embedder,
		AIRetry:    AIRetry(),
		StoreRetry: StoreRetry(),
	})
}

// NewSyncer connects to the mirror configured by NEO4J_*. It returns a nil
// syncer when NEO4J_URI is unset. The returned close func is always safe to
// call.
func (c *Clients) NewSyncer(ctx context.Context) (*mirror.Syncer, func(), error) {
	noop := func() {}
	uri := util.GetEnv("NEO4J_URI")
	if uri == "" {
		return nil, noop, nil
	}
	sink, err := mirror.NewNeo4jSink(ctx, mirror.Config{
		URI:      uri,
		User:     util.GetEnv("NEO4J_USER"),
		Password: util.GetEnv("NEO4J_PASSWORD"),
		Database: util.GetEnv("NEO4J_DATABASE"),
	})
	if err != nil {
		return nil, noop, err
	}
	closeSink := func() {
		if err := sink.Close(context.Background()); err != nil {
			logger.Warn("[Mirror] Close failed", "err", err)
		}
	}
	sink.EnsureSchema(ctx)

	syncer, err := mirror.NewSyncer(mirror.NewSyncerParams{
		Source:   c.Store,
		Sink:     sink,
		Retry:    StoreRetry(),
		PageSize: util.GetEnvInt("NEO4J_PAGE_SIZE", mirror.DefaultPageSize),
	})
	if err != nil {
		closeSink()
		return nil, noop, err
	}
	return syncer, closeSink, nil
}

// LogAIMetrics logs and resets the provider's token usage.
func LogAIMetrics(client ai.MetricsReporter) {
	m := client.GetMetrics()
	logger.Info(
		"AI Metrics",
		"requests", m.Requests,
		"input_tokens", m.InputTokens,
		"output_tokens", m.OutputTokens,
		"total_tokens", m.TotalTokens,
		"duration", util.FormatDuration(time.Duration(m.DurationMs)*time.Millisecond),
	)
	client.ResetMetrics()
}
