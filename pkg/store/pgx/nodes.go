package pgx

import (
	"context"
	"fmt"
	"math"

	"github.com/hansard-kg/engine/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const nodeColumns = `n.id, n.type, n.label, n.aliases, n.embedding, n.created_at, n.updated_at`

type nodeScanner interface {
	Scan(dest ...any) error
}

func scanNode(row nodeScanner, extra ...any) (common.Node, error) {
	var (
		n   common.Node
		typ string
		emb *pgvector.Vector
	)
	dest := append([]any{&n.ID, &typ, &n.Label, &n.Aliases, &emb, &n.CreatedAt, &n.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return common.Node{}, err
	}
	n.Type = common.NodeType(typ)
	if emb != nil {
		n.Embedding = emb.Slice()
	}
	if n.Aliases == nil {
		n.Aliases = []string{}
	}
	return n, nil
}

func collectNodes(rows pgxv5.Rows) ([]common.Node, error) {
	defer rows.Close()
	var out []common.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+` FROM kg_nodes n WHERE n.id = ANY($1) ORDER BY n.id`, ids)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

// SimilarNodes returns the k nearest embedded nodes by cosine distance.
// Score is 1 - distance.
func (s *GraphDBStorage) SimilarNodes(ctx context.Context, embedding []float32, k int) ([]common.ScoredNode, error) {
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}
	if err := s.checkDim(embedding); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`, n.embedding <=> $1 AS distance
		FROM kg_nodes n
		WHERE n.embedding IS NOT NULL
		ORDER BY distance, n.id
		LIMIT $2`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ScoredNode
	for rows.Next() {
		var dist float64
		n, err := scanNode(rows, &dist)
		if err != nil {
			return nil, err
		}
		out = append(out, common.ScoredNode{Node: n, Distance: dist, Score: 1 - dist})
	}
	return out, rows.Err()
}

// NodesByAlias resolves normalized aliases through kg_aliases and the
// aliases column of kg_nodes.
func (s *GraphDBStorage) NodesByAlias(ctx context.Context, norms []string, limit int) ([]common.Node, error) {
	if len(norms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(norms)
	}
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`
		FROM kg_nodes n
		WHERE n.id IN (SELECT a.node_id FROM kg_aliases a WHERE a.alias_norm = ANY($1))
		   OR n.aliases && $1::text[]
		ORDER BY n.id
		LIMIT $2`, norms, limit)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

// SearchNodesFullText ranks nodes with ts_rank over label and aliases.
// Scores are divided by the best rank so the top hit scores 1.
func (s *GraphDBStorage) SearchNodesFullText(ctx context.Context, query string, limit int) ([]common.ScoredNode, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`, ts_rank(n.tsv, q) AS rank
		FROM kg_nodes n, plainto_tsquery('english', $1) q
		WHERE n.tsv @@ q
		ORDER BY rank DESC, n.id
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ScoredNode
	for rows.Next() {
		var rank float32
		n, err := scanNode(rows, &rank)
		if err != nil {
			return nil, err
		}
		out = append(out, common.ScoredNode{Node: n, Score: float64(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	normalizeRanks(out)
	return out, nil
}

func normalizeRanks(nodes []common.ScoredNode) {
	best := 0.0
	for _, n := range nodes {
		best = math.Max(best, n.Score)
	}
	if best <= 0 {
		return
	}
	for i := range nodes {
		nodes[i].Score /= best
	}
}

func (s *GraphDBStorage) SittingSeedNodes(ctx context.Context, videoID string) ([]common.Node, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`
		FROM kg_sitting_seeds ss
		JOIN kg_nodes n ON n.id = ss.node_id
		WHERE ss.youtube_video_id = $1
		ORDER BY n.id`, videoID)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

// AddSittingSeeds pins nodes to a sitting. Unknown node ids fail the
// foreign key and abort the whole call.
func (s *GraphDBStorage) AddSittingSeeds(ctx context.Context, videoID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `INSERT INTO kg_sitting_seeds (youtube_video_id, node_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING`, videoID, nodeIDs)
	return err
}

func (s *GraphDBStorage) NodesMissingEmbedding(ctx context.Context, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`
		FROM kg_nodes n
		WHERE n.embedding IS NULL
		ORDER BY n.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

func (s *GraphDBStorage) SetNodeEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("got %d ids and %d embeddings", len(ids), len(embeddings))
	}
	if len(ids) == 0 {
		return nil
	}

	batch := &pgxv5.Batch{}
	for i, id := range ids {
		if len(embeddings[i]) == 0 {
			continue
		}
		if err := s.checkDim(embeddings[i]); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		batch.Queue(`UPDATE kg_nodes
			SET embedding = $2, updated_at = now()
			WHERE id = $1 AND embedding IS NULL`, id, pgvector.NewVector(embeddings[i]))
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListNodes pages nodes in id order, starting after afterID.
func (s *GraphDBStorage) ListNodes(ctx context.Context, afterID string, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.conn.Query(ctx, `SELECT `+nodeColumns+`
		FROM kg_nodes n
		WHERE n.id > $1
		ORDER BY n.id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}
