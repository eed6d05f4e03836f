package store

import (
	"context"

	"github.com/hansard-kg/engine/pkg/common"
)

// TranscriptSource reads the upstream transcript tables.
type TranscriptSource interface {
	// GetUtterances returns the utterances of a sitting ordered by seconds.
	GetUtterances(ctx context.Context, videoID string) ([]common.Utterance, error)
	// GetUtterancesByID returns the requested utterances; unknown ids are skipped.
	GetUtterancesByID(ctx context.Context, ids []string) ([]common.Utterance, error)
	GetSpeakers(ctx context.Context, ids []string) ([]common.Speaker, error)
	ListSpeakers(ctx context.Context) ([]common.Speaker, error)
	ListVideos(ctx context.Context) ([]string, error)
}

// CandidateSource answers the lookups used to build the known-nodes table.
type CandidateSource interface {
	// SimilarNodes returns the k nearest nodes by cosine distance.
	SimilarNodes(ctx context.Context, embedding []float32, k int) ([]common.ScoredNode, error)
	// NodesByAlias returns nodes whose alias_norm is one of norms.
	NodesByAlias(ctx context.Context, norms []string, limit int) ([]common.Node, error)
	// GetNodes returns the nodes with the given ids, including embeddings when set.
	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)
	// SittingSeedNodes returns nodes attached to the sitting by the seeder.
	SittingSeedNodes(ctx context.Context, videoID string) ([]common.Node, error)
}

// GraphWriter persists canonical deltas.
type GraphWriter interface {
	// ApplyDelta writes nodes, aliases and edges atomically. Node upserts
	// union aliases and never overwrite an existing embedding. Alias and edge
	// inserts ignore conflicts. Edges whose endpoints are missing after the
	// node writes are skipped and counted.
	ApplyDelta(ctx context.Context, delta common.GraphDelta) (common.ApplyResult, error)
	AddSittingSeeds(ctx context.Context, videoID string, nodeIDs []string) error
	NodesMissingEmbedding(ctx context.Context, limit int) ([]common.Node, error)
	// SetNodeEmbeddings fills embeddings that are still NULL.
	SetNodeEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error
	// Clear bulk-deletes edges, then aliases, then nodes.
	Clear(ctx context.Context) (common.ClearResult, error)
}

// GraphReader serves the retrieval path.
type GraphReader interface {
	SimilarNodes(ctx context.Context, embedding []float32, k int) ([]common.ScoredNode, error)
	NodesByAlias(ctx context.Context, norms []string, limit int) ([]common.Node, error)
	// SearchNodesFullText ranks nodes by ts_rank over label and aliases.
	SearchNodesFullText(ctx context.Context, query string, limit int) ([]common.ScoredNode, error)
	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)
	// EdgesTouching returns edges with an endpoint in nodeIDs, ordered by
	// confidence desc, earliest_seconds asc, id asc, skipping excludeEdgeIDs.
	EdgesTouching(ctx context.Context, nodeIDs []string, excludeEdgeIDs []string, limit int) ([]common.Edge, error)
	GetUtterancesByID(ctx context.Context, ids []string) ([]common.Utterance, error)
	GetSpeakers(ctx context.Context, ids []string) ([]common.Speaker, error)
	CountEdges(ctx context.Context, nodeID string) (int, error)
}

// EdgeFilter narrows ListEdges. Empty fields match everything.
type EdgeFilter struct {
	VideoID string
	RunID   string
	AfterID string
	Limit   int
}

// MirrorSource pages through the graph for export.
type MirrorSource interface {
	// ListNodes pages nodes by id.
	ListNodes(ctx context.Context, afterID string, limit int) ([]common.Node, error)
	ListEdges(ctx context.Context, filter EdgeFilter) ([]common.Edge, error)
	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)
}

// GraphStorage is the full persistence capability, implemented by
// pkg/store/pgx for PostgreSQL + pgvector and pkg/store/memory for tests.
type GraphStorage interface {
	TranscriptSource
	CandidateSource
	GraphWriter
	GraphReader
	MirrorSource
}
