package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/store"

	"gopkg.in/yaml.v3"
)

const DefaultEmbedBatchSize = 64

// SeedFile lists curated nodes, typically the bills and bodies on a
// sitting's order paper.
//
//	sitting: Syxyah7QIaM
//	nodes:
//	  - type: schema:Legislation
//	    label: Water and Sewerage Bill
//	    aliases: [Water Bill]
type SeedFile struct {
	// Sitting, when set, attaches every node to the video so candidate
	// retrieval always offers them.
	Sitting string     `yaml:"sitting"`
	Nodes   []SeedNode `yaml:"nodes"`
}

type SeedNode struct {
	Type    common.NodeType `yaml:"type"`
	Label   string          `yaml:"label"`
	Aliases []string        `yaml:"aliases"`
}

// LoadSeedFile reads and checks a YAML seed file.
func LoadSeedFile(path string) (SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeedFile(b)
}

func ParseSeedFile(b []byte) (SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return SeedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	for i, n := range f.Nodes {
		if !n.Type.Valid() {
			return SeedFile{}, fmt.Errorf("seed node %d: invalid type %q", i, n.Type)
		}
		if strings.TrimSpace(n.Label) == "" {
			return SeedFile{}, fmt.Errorf("seed node %d: empty label", i)
		}
	}
	return f, nil
}

// seedNode canonicalizes a seed entry the same way an extracted node is,
// so a later mention of the label merges into it.
func seedNode(sn SeedNode) (common.Node, []common.Alias) {
	n, aliases := extractedNode(DraftNode{Type: string(sn.Type), Label: sn.Label, Aliases: sn.Aliases})
	for i := range aliases {
		aliases[i].Source = common.AliasSeed
	}
	return n, aliases
}

// SeedSpeakers writes a speaker node for every row of the speakers table.
func (g *GraphClient) SeedSpeakers(ctx context.Context) (common.ApplyResult, error) {
	speakers, err := util.RetryWithPolicy(ctx, g.storeRetry, func(ctx context.Context) ([]common.Speaker, error) {
		return g.store.ListSpeakers(ctx)
	})
	if err != nil {
		return common.ApplyResult{}, storeErr("list speakers", err)
	}

	var delta common.GraphDelta
	for _, sp := range speakers {
		n, aliases := SpeakerNode(sp.ID, &sp)
		delta.Nodes = append(delta.Nodes, n)
		delta.Aliases = append(delta.Aliases, aliases...)
	}
	res, err := g.applySeed(ctx, delta)
	if err != nil {
		return res, err
	}
	logger.Info("[Graph] Seeded speakers", "speakers", len(speakers), "inserted", res.NodesInserted, "merged", res.NodesMerged)
	return res, nil
}

// SeedNodes writes the nodes of f and, when f names a sitting, attaches
// them to it.
func (g *GraphClient) SeedNodes(ctx context.Context, f SeedFile) (common.ApplyResult, error) {
	var delta common.GraphDelta
	ids := make([]string, 0, len(f.Nodes))
	for _, sn := range f.Nodes {
		n, aliases := seedNode(sn)
		delta.Nodes = append(delta.Nodes, n)
		delta.Aliases = append(delta.Aliases, aliases...)
		ids = append(ids, n.ID)
	}
	res, err := g.applySeed(ctx, delta)
	if err != nil {
		return res, err
	}

	if f.Sitting != "" && len(ids) > 0 {
		err := util.RetryErrWithPolicy(ctx, g.storeRetry, func(ctx context.Context) error {
			return g.store.AddSittingSeeds(ctx, f.Sitting, store.DedupeStrings(ids))
		})
		if err != nil {
			return res, storeErr("add sitting seeds", err)
		}
	}
	logger.Info("[Graph] Seeded nodes", "nodes", len(f.Nodes), "inserted", res.NodesInserted, "sitting", f.Sitting)
	return res, nil
}

func (g *GraphClient) applySeed(ctx context.Context, delta common.GraphDelta) (common.ApplyResult, error) {
	if len(delta.Nodes) == 0 {
		return common.ApplyResult{}, nil
	}
	if err := g.canonicalizer.embedMissing(ctx, delta.Nodes); err != nil {
		return common.ApplyResult{}, err
	}
	res, err := util.RetryWithPolicy(ctx, g.storeRetry, func(ctx context.Context) (common.ApplyResult, error) {
		return g.store.ApplyDelta(ctx, delta)
	})
	if err != nil {
		return res, storeErr("apply seed", err)
	}
	return res, nil
}

// EmbedMissing backfills document embeddings for nodes that have none,
// batchSize nodes at a time. It returns how many nodes were embedded.
func (g *GraphClient) EmbedMissing(ctx context.Context, batchSize int) (int, error) {
	if g.embedder == nil {
		return 0, errors.New("embed missing: embedder is nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}

	done := 0
	tried := map[string]struct{}{}
	for {
		nodes, err := util.RetryWithPolicy(ctx, g.storeRetry, func(ctx context.Context) ([]common.Node, error) {
			return g.store.NodesMissingEmbedding(ctx, batchSize)
		})
		if err != nil {
			return done, storeErr("nodes missing embedding", err)
		}

		ids := make([]string, 0, len(nodes))
		inputs := make([][]byte, 0, len(nodes))
		for _, n := range nodes {
			if _, ok := tried[n.ID]; ok {
				continue
			}
			tried[n.ID] = struct{}{}
			ids = append(ids, n.ID)
			inputs = append(inputs, []byte(n.Label))
		}
		if len(ids) == 0 {
			return done, nil
		}

		vecs, err := util.RetryWithPolicy(ctx, g.aiRetry, func(ctx context.Context) ([][]float32, error) {
			return store.GenerateEmbeddings(ctx, g.embedder, inputs, ai.EmbeddingModeDocument, batchSize, 1)
		})
		if err != nil {
			return done, providerErr("embed nodes", err)
		}
		err = util.RetryErrWithPolicy(ctx, g.storeRetry, func(ctx context.Context) error {
			return g.store.SetNodeEmbeddings(ctx, ids, vecs)
		})
		if err != nil {
			return done, storeErr("set node embeddings", err)
		}
		done += len(ids)
		logger.Info("[Graph] Embedded nodes", "batch", len(ids), "total", done)
	}
}

// Clear deletes every edge, alias, sitting seed and node.
func (g *GraphClient) Clear(ctx context.Context) (common.ClearResult, error) {
	res, err := g.store.Clear(ctx)
	if err != nil {
		return res, storeErr("clear", err)
	}
	logger.Warn("[Graph] Cleared graph", "edges", res.Edges, "aliases", res.Aliases, "nodes", res.Nodes)
	return res, nil
}
