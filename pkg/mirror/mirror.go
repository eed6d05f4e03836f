// Package mirror copies the Postgres graph into a Neo4j compatible store
// for exploration with Cypher. Nodes become (:KGNode) and every edge a
// relationship typed by its predicate, merged on the edge id so syncs can
// be repeated.
package mirror

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/store"
)

const DefaultPageSize = 500

var relTypeInvalid = regexp.MustCompile(`[^A-Z0-9_]`)

// SanitizeRelationshipType upper-cases p and maps anything outside
// [A-Z0-9_] to "_".
func SanitizeRelationshipType(p string) string {
	return relTypeInvalid.ReplaceAllString(strings.ToUpper(p), "_")
}

func validRelType(t string) bool {
	return t != "" && !relTypeInvalid.MatchString(t)
}

// Sink receives mirrored rows. Neo4jSink is the production sink.
type Sink interface {
	MergeNodes(ctx context.Context, nodes []common.Node) error
	MergeEdges(ctx context.Context, relType string, edges []common.Edge) error
}

// Options select what to sync. VideoID and RunID are exclusive.
type Options struct {
	VideoID   string `json:"youtube_video_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	SkipNodes bool   `json:"skip_nodes,omitempty"`
	SkipEdges bool   `json:"skip_edges,omitempty"`
}

type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

type Syncer struct {
	source   store.MirrorSource
	sink     Sink
	retry    util.RetryPolicy
	pageSize int
}

type NewSyncerParams struct {
	Source   store.MirrorSource
	Sink     Sink
	Retry    util.RetryPolicy
	PageSize int
}

func NewSyncer(params NewSyncerParams) (*Syncer, error) {
	if params.Source == nil || params.Sink == nil {
		return nil, errors.New("mirror: source and sink are required")
	}
	page := params.PageSize
	if page <= 0 {
		page = DefaultPageSize
	}
	return &Syncer{source: params.Source, sink: params.Sink, retry: params.Retry, pageSize: page}, nil
}

// Sync pages through the source and merges everything into the sink.
func (s *Syncer) Sync(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats
	if opts.VideoID != "" && opts.RunID != "" {
		return stats, errors.New("mirror: video and run filters are exclusive")
	}
	if !opts.SkipNodes {
		n, err := s.syncNodes(ctx)
		stats.Nodes = n
		if err != nil {
			return stats, err
		}
	}
	if !opts.SkipEdges {
		n, err := s.syncEdges(ctx, opts)
		stats.Edges = n
		if err != nil {
			return stats, err
		}
	}
	logger.Info("[Mirror] Sync finished", "nodes", stats.Nodes, "edges", stats.Edges, "video_id", opts.VideoID, "run_id", opts.RunID)
	return stats, nil
}

func (s *Syncer) syncNodes(ctx context.Context) (int, error) {
	count := 0
	after := ""
	for {
		nodes, err := util.RetryWithPolicy(ctx, s.retry, func(ctx context.Context) ([]common.Node, error) {
			return s.source.ListNodes(ctx, after, s.pageSize)
		})
		if err != nil {
			return count, err
		}
		if len(nodes) == 0 {
			return count, nil
		}
		err = util.RetryErrWithPolicy(ctx, s.retry, func(ctx context.Context) error {
			return s.sink.MergeNodes(ctx, nodes)
		})
		if err != nil {
			return count, err
		}
		count += len(nodes)
		after = nodes[len(nodes)-1].ID
		logger.Debug("[Mirror] Synced nodes", "count", count)
		if len(nodes) < s.pageSize {
			return count, nil
		}
	}
}

func (s *Syncer) syncEdges(ctx context.Context, opts Options) (int, error) {
	count := 0
	filter := store.EdgeFilter{VideoID: opts.VideoID, RunID: opts.RunID, Limit: s.pageSize}
	for {
		edges, err := util.RetryWithPolicy(ctx, s.retry, func(ctx context.Context) ([]common.Edge, error) {
			return s.source.ListEdges(ctx, filter)
		})
		if err != nil {
			return count, err
		}
		if len(edges) == 0 {
			return count, nil
		}

		byType := map[string][]common.Edge{}
		var order []string
		for _, e := range edges {
			t := SanitizeRelationshipType(string(e.Predicate))
			if t == "" {
				continue
			}
			if _, ok := byType[t]; !ok {
				order = append(order, t)
			}
			byType[t] = append(byType[t], e)
		}
		for _, t := range order {
			err := util.RetryErrWithPolicy(ctx, s.retry, func(ctx context.Context) error {
				return s.sink.MergeEdges(ctx, t, byType[t])
			})
			if err != nil {
				return count, err
			}
			count += len(byType[t])
		}
		filter.AfterID = edges[len(edges)-1].ID
		logger.Debug("[Mirror] Synced edges", "count", count)
		if len(edges) < s.pageSize {
			return count, nil
		}
	}
}
