// Package query is the GraphRAG read path. A query is answered with a
// compact subgraph: seed nodes found by vector, full text and alias search,
// the edges within a few hops of them, and the transcript utterances that
// back those edges.
package query

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/store"
)

const (
	DefaultSeedK        = 8
	DefaultHops         = 1
	DefaultMaxEdges     = 60
	DefaultMaxCitations = 12
	DefaultAlpha        = 0.6

	aliasSeedLimit = 5
)

// Seed match reasons.
const (
	MatchVector   = "vector"
	MatchFullText = "fulltext"
	MatchAlias    = "alias"
)

// Reasons reported on an empty result.
const (
	ReasonEmptyQuery = "empty_query"
	ReasonNoSeeds    = "no_seeds"
)

// Params bound one retrieval. Zero fields fall back to the defaults.
type Params struct {
	SeedK        int     `json:"seed_k" validate:"omitempty,min=1,max=50"`
	Hops         int     `json:"hops" validate:"omitempty,min=1,max=3"`
	MaxEdges     int     `json:"max_edges" validate:"omitempty,min=1,max=500"`
	MaxCitations int     `json:"max_citations" validate:"omitempty,min=1,max=100"`
	Alpha        float64 `json:"alpha" validate:"omitempty,min=0,max=1"`
}

func DefaultParams() Params {
	return Params{
		SeedK:        DefaultSeedK,
		Hops:         DefaultHops,
		MaxEdges:     DefaultMaxEdges,
		MaxCitations: DefaultMaxCitations,
		Alpha:        DefaultAlpha,
	}
}

// withDefaults fills zero fields from d. A pure graph ranking needs a small
// positive Alpha since 0 means unset.
func (p Params) withDefaults(d Params) Params {
	if p.SeedK <= 0 {
		p.SeedK = d.SeedK
	}
	if p.Hops <= 0 {
		p.Hops = d.Hops
	}
	if p.MaxEdges <= 0 {
		p.MaxEdges = d.MaxEdges
	}
	if p.MaxCitations <= 0 {
		p.MaxCitations = d.MaxCitations
	}
	if p.Alpha <= 0 {
		p.Alpha = d.Alpha
	}
	p.Alpha = min(p.Alpha, 1)
	return p
}

type Seed struct {
	ID          string          `json:"id"`
	Type        common.NodeType `json:"type"`
	Label       string          `json:"label"`
	Aliases     []string        `json:"aliases"`
	Score       float64         `json:"score"`
	MatchReason string          `json:"match_reason"`
}

type Node struct {
	ID    string          `json:"id"`
	Type  common.NodeType `json:"type"`
	Label string          `json:"label"`
	// Hop is 0 for seeds.
	Hop int `json:"hop"`
}

type Edge struct {
	ID                string           `json:"id"`
	SourceID          string           `json:"source_id"`
	Predicate         common.Predicate `json:"predicate"`
	PredicateRaw      string           `json:"predicate_raw"`
	TargetID          string           `json:"target_id"`
	VideoID           string           `json:"youtube_video_id"`
	EarliestTimestamp string           `json:"earliest_timestamp_str"`
	EarliestSeconds   int              `json:"earliest_seconds"`
	UtteranceIDs      []string         `json:"utterance_ids"`
	Evidence          string           `json:"evidence"`
	SpeakerIDs        []string         `json:"speaker_ids"`
	Confidence        float64          `json:"confidence"`
	Hop               int              `json:"hop"`
	VectorScore       float64          `json:"vector_score"`
	GraphScore        float64          `json:"graph_score"`
	Score             float64          `json:"score"`
}

type Citation struct {
	UtteranceID  string `json:"utterance_id"`
	EdgeID       string `json:"edge_id"`
	SpeakerID    string `json:"speaker_id"`
	SpeakerName  string `json:"speaker_name"`
	Text         string `json:"text"`
	TimestampStr string `json:"timestamp_str"`
	Seconds      int    `json:"seconds_since_start"`
	VideoID      string `json:"video_id"`
	VideoTitle   string `json:"video_title,omitempty"`
	VideoDate    string `json:"video_date,omitempty"`
	URL          string `json:"youtube_url"`
}

type Debug struct {
	Reason        string `json:"reason,omitempty"`
	SeedCount     int    `json:"seed_count"`
	NodeCount     int    `json:"node_count"`
	EdgeCount     int    `json:"edge_count"`
	CitationCount int    `json:"citation_count"`
	// VectorError is set when query embedding failed and seeds came from
	// full text and alias search only.
	VectorError string `json:"vector_error,omitempty"`
	TookMs      int64  `json:"took_ms"`
}

// Result is the downstream contract of the read path.
type Result struct {
	Query     string     `json:"query"`
	Hops      int        `json:"hops"`
	Seeds     []Seed     `json:"seeds"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Citations []Citation `json:"citations"`
	Debug     Debug      `json:"debug"`
}

func emptyResult(q string, hops int, reason string) Result {
	return Result{
		Query:     q,
		Hops:      hops,
		Seeds:     []Seed{},
		Nodes:     []Node{},
		Edges:     []Edge{},
		Citations: []Citation{},
		Debug:     Debug{Reason: reason},
	}
}

// Retriever answers queries against the graph. It only reads and is safe
// for concurrent use.
type Retriever struct {
	store      store.GraphReader
	embedder   ai.EmbeddingProvider
	aiRetry    util.RetryPolicy
	storeRetry util.RetryPolicy
	defaults   Params
	tracer     Tracer
}

// NewRetrieverParams configures a Retriever. Embedder may be nil, in which
// case seeds come from full text and alias search only.
type NewRetrieverParams struct {
	Store      store.GraphReader
	Embedder   ai.EmbeddingProvider
	AIRetry    util.RetryPolicy
	StoreRetry util.RetryPolicy
	Defaults   Params
	Tracer     Tracer
}

func NewRetriever(params NewRetrieverParams) (*Retriever, error) {
	if params.Store == nil {
		return nil, errors.New("retriever: store is nil")
	}
	defaults := params.Defaults.withDefaults(DefaultParams())
	return &Retriever{
		store:      params.Store,
		embedder:   params.Embedder,
		aiRetry:    params.AIRetry,
		storeRetry: params.StoreRetry,
		defaults:   defaults,
		tracer:     params.Tracer,
	}, nil
}

// Defaults are the parameters used for zero fields.
func (r *Retriever) Defaults() Params {
	return r.defaults
}

type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	tracer Tracer
}

// WithTracer adds a tracer for a single call, next to the retriever's own.
func WithTracer(t Tracer) RetrieveOption {
	return func(o *retrieveOptions) {
		o.tracer = t
	}
}

// Retrieve answers q. A blank query or a query without seeds is not an
// error; the result is empty and Debug.Reason says why. Errors are store
// failures.
func (r *Retriever) Retrieve(ctx context.Context, q string, p Params, opts ...RetrieveOption) (Result, error) {
	start := time.Now()
	o := retrieveOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	tracer := r.tracer
	if o.tracer != nil {
		tracer = MultiTracer{r.tracer, o.tracer}
	}

	p = p.withDefaults(r.defaults)
	q = strings.TrimSpace(q)
	if q == "" {
		return emptyResult("", p.Hops, ReasonEmptyQuery), nil
	}

	seeds, vecErr, err := r.seeds(ctx, q, p.SeedK, tracer)
	if err != nil {
		return Result{}, err
	}
	if len(seeds) == 0 {
		res := emptyResult(q, p.Hops, ReasonNoSeeds)
		res.Debug.VectorError = vecErr
		res.Debug.TookMs = time.Since(start).Milliseconds()
		logger.Debug("[Query] No seeds", "query", q)
		return res, nil
	}

	exp, err := r.expand(ctx, seeds, p, tracer)
	if err != nil {
		return Result{}, err
	}
	edges := scoreEdges(exp.edges, p.Alpha)

	nodes, err := r.hydrateNodes(ctx, exp.hops)
	if err != nil {
		return Result{}, err
	}
	citations, err := r.citations(ctx, edges, p.MaxCitations)
	if err != nil {
		return Result{}, err
	}
	cited := make([]string, len(citations))
	for i, c := range citations {
		cited[i] = c.UtteranceID
	}
	recordIDs(tracer, TraceEventCitedUtteranceIDs, 0, cited...)

	res := Result{
		Query:     q,
		Hops:      p.Hops,
		Seeds:     seeds,
		Nodes:     nodes,
		Edges:     edges,
		Citations: citations,
		Debug: Debug{
			SeedCount:     len(seeds),
			NodeCount:     len(nodes),
			EdgeCount:     len(edges),
			CitationCount: len(citations),
			VectorError:   vecErr,
			TookMs:        time.Since(start).Milliseconds(),
		},
	}
	logger.Debug("[Query] Retrieved subgraph", "query", q, "seeds", len(seeds), "nodes", len(nodes), "edges", len(edges), "citations", len(citations))
	return res, nil
}

// seeds fuses the three seed sources. A failing vector search degrades to
// the other two and is reported as vecErr.
func (r *Retriever) seeds(ctx context.Context, q string, k int, tracer Tracer) (seeds []Seed, vecErr string, err error) {
	best := map[string]Seed{}
	add := func(n common.Node, score float64, reason string) {
		if cur, ok := best[n.ID]; ok && cur.Score >= score {
			return
		}
		best[n.ID] = Seed{
			ID:          n.ID,
			Type:        n.Type,
			Label:       n.Label,
			Aliases:     n.Aliases,
			Score:       score,
			MatchReason: reason,
		}
	}

	if r.embedder != nil {
		similar, err := r.vectorSeeds(ctx, q, k)
		if err != nil {
			var se *graph.StoreError
			if errors.As(err, &se) {
				return nil, "", err
			}
			logger.Warn("[Query] Vector seeds failed, using full text only", "err", err)
			recordSeedFailure(tracer, MatchVector, err)
			vecErr = err.Error()
		}
		for _, sn := range similar {
			add(sn.Node, 1-sn.Distance, MatchVector)
		}
	}

	ranked, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.ScoredNode, error) {
		return r.store.SearchNodesFullText(ctx, q, k)
	})
	if err != nil {
		return nil, vecErr, &graph.StoreError{Op: "full text seeds", Err: err}
	}
	for _, sn := range ranked {
		add(sn.Node, sn.Score, MatchFullText)
	}

	if norm := graph.NormalizeLabel(q); norm != "" {
		exact, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
			return r.store.NodesByAlias(ctx, []string{norm}, aliasSeedLimit)
		})
		if err != nil {
			return nil, vecErr, &graph.StoreError{Op: "alias seeds", Err: err}
		}
		for _, n := range exact {
			add(n, 1, MatchAlias)
		}
	}

	seeds = make([]Seed, 0, len(best))
	for _, s := range best {
		seeds = append(seeds, s)
	}
	slices.SortFunc(seeds, func(a, b Seed) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.ID, b.ID))
	})
	if len(seeds) > k {
		seeds = seeds[:k]
	}

	ids := make([]string, len(seeds))
	for i, s := range seeds {
		ids[i] = s.ID
	}
	recordIDs(tracer, TraceEventSeedNodeIDs, 0, ids...)
	return seeds, vecErr, nil
}

func (r *Retriever) vectorSeeds(ctx context.Context, q string, k int) ([]common.ScoredNode, error) {
	emb, err := util.RetryWithPolicy(ctx, r.aiRetry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.GenerateEmbedding(ctx, []byte(q), ai.EmbeddingModeQuery)
	})
	if err != nil {
		return nil, &graph.ProviderError{Op: "embed query", Err: err}
	}
	similar, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.ScoredNode, error) {
		return r.store.SimilarNodes(ctx, emb, k)
	})
	if err != nil {
		return nil, &graph.StoreError{Op: "vector seeds", Err: err}
	}
	return similar, nil
}

func (r *Retriever) hydrateNodes(ctx context.Context, hops map[string]int) ([]Node, error) {
	ids := make([]string, 0, len(hops))
	for id := range hops {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	rows, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
		return r.store.GetNodes(ctx, ids)
	})
	if err != nil {
		return nil, &graph.StoreError{Op: "hydrate nodes", Err: err}
	}
	nodes := make([]Node, 0, len(rows))
	for _, n := range rows {
		nodes = append(nodes, Node{ID: n.ID, Type: n.Type, Label: n.Label, Hop: hops[n.ID]})
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		return cmp.Or(cmp.Compare(a.Hop, b.Hop), cmp.Compare(a.ID, b.ID))
	})
	return nodes, nil
}

// NodeDetail is a node with its aliases and how many edges touch it.
type NodeDetail struct {
	ID        string          `json:"id"`
	Type      common.NodeType `json:"type"`
	Label     string          `json:"label"`
	Aliases   []string        `json:"aliases"`
	EdgeCount int             `json:"edge_count"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
}

// ErrNodeNotFound is returned by Node for unknown ids.
var ErrNodeNotFound = errors.New("node not found")

func (r *Retriever) Node(ctx context.Context, id string) (NodeDetail, error) {
	rows, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Node, error) {
		return r.store.GetNodes(ctx, []string{id})
	})
	if err != nil {
		return NodeDetail{}, &graph.StoreError{Op: "get node", Err: err}
	}
	if len(rows) == 0 {
		return NodeDetail{}, ErrNodeNotFound
	}
	n := rows[0]
	count, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) (int, error) {
		return r.store.CountEdges(ctx, id)
	})
	if err != nil {
		return NodeDetail{}, &graph.StoreError{Op: "count edges", Err: err}
	}
	return NodeDetail{
		ID:        n.ID,
		Type:      n.Type,
		Label:     n.Label,
		Aliases:   n.Aliases,
		EdgeCount: count,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}, nil
}
