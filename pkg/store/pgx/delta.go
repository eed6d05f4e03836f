package pgx

import (
	"context"
	"fmt"

	"github.com/hansard-kg/engine/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Aliases are unioned in first-seen order. The embedding is only written
// when the stored one is NULL.
const upsertNodeSQL = `INSERT INTO kg_nodes (id, label, type, aliases, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	aliases = ARRAY(
		SELECT a FROM unnest(kg_nodes.aliases || EXCLUDED.aliases) WITH ORDINALITY AS t(a, ord)
		GROUP BY a
		ORDER BY min(ord)
	),
	embedding = COALESCE(kg_nodes.embedding, EXCLUDED.embedding),
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

const insertAliasSQL = `INSERT INTO kg_aliases (alias_norm, alias_raw, node_id, type, source, confidence)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (alias_norm) DO NOTHING`

const insertEdgeSQL = `INSERT INTO kg_edges (
	id, source_id, predicate, predicate_raw, target_id, youtube_video_id,
	earliest_timestamp_str, earliest_seconds, utterance_ids, evidence,
	speaker_ids, confidence, extractor_model, kg_run_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

// ApplyDelta writes one window's delta in a single transaction.
func (s *GraphDBStorage) ApplyDelta(ctx context.Context, delta common.GraphDelta) (common.ApplyResult, error) {
	var res common.ApplyResult
	for _, n := range delta.Nodes {
		if err := s.checkDim(n.Embedding); err != nil {
			return res, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	if err := upsertNodes(ctx, tx, delta.Nodes, &res); err != nil {
		return common.ApplyResult{}, fmt.Errorf("upsert nodes: %w", err)
	}
	if err := insertAliases(ctx, tx, delta.Aliases, &res); err != nil {
		return common.ApplyResult{}, fmt.Errorf("insert aliases: %w", err)
	}
	if err := insertEdges(ctx, tx, delta.Edges, &res); err != nil {
		return common.ApplyResult{}, fmt.Errorf("insert edges: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return common.ApplyResult{}, err
	}
	return res, nil
}

func upsertNodes(ctx context.Context, tx pgxv5.Tx, nodes []common.Node, res *common.ApplyResult) error {
	if len(nodes) == 0 {
		return nil
	}
	batch := &pgxv5.Batch{}
	for _, n := range nodes {
		var emb any
		if len(n.Embedding) > 0 {
			emb = pgvector.NewVector(n.Embedding)
		}
		batch.Queue(upsertNodeSQL, n.ID, pgText(n.Label), string(n.Type), pgTexts(n.Aliases), emb)
	}

	br := tx.SendBatch(ctx, batch)
	for range nodes {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			br.Close()
			return err
		}
		if inserted {
			res.NodesInserted++
		} else {
			res.NodesMerged++
		}
	}
	return br.Close()
}

func insertAliases(ctx context.Context, tx pgxv5.Tx, aliases []common.Alias, res *common.ApplyResult) error {
	if len(aliases) == 0 {
		return nil
	}
	batch := &pgxv5.Batch{}
	for _, a := range aliases {
		batch.Queue(insertAliasSQL, pgText(a.Norm), pgText(a.Raw), a.NodeID, string(a.Type), string(a.Source), a.Confidence)
	}

	br := tx.SendBatch(ctx, batch)
	for range aliases {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return err
		}
		res.AliasesInserted += int(tag.RowsAffected())
	}
	return br.Close()
}

func insertEdges(ctx context.Context, tx pgxv5.Tx, edges []common.Edge, res *common.ApplyResult) error {
	if len(edges) == 0 {
		return nil
	}

	var endpoints []string
	for _, e := range edges {
		endpoints = append(endpoints, e.SourceID, e.TargetID)
	}
	rows, err := tx.Query(ctx, `SELECT id FROM kg_nodes WHERE id = ANY($1)`, endpoints)
	if err != nil {
		return err
	}
	ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	batch := &pgxv5.Batch{}
	for _, e := range edges {
		_, okSrc := known[e.SourceID]
		_, okTgt := known[e.TargetID]
		if !okSrc || !okTgt {
			res.EdgesSkippedMissingNodes++
			continue
		}
		batch.Queue(insertEdgeSQL,
			e.ID, e.SourceID, string(e.Predicate), pgText(e.PredicateRaw), e.TargetID, e.VideoID,
			e.EarliestTimestamp, e.EarliestSeconds, nonNil(e.UtteranceIDs), pgText(e.Evidence),
			nonNil(e.SpeakerIDs), e.Confidence, e.ExtractorModel, e.RunID,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return err
		}
		if tag.RowsAffected() == 0 {
			res.EdgesDuplicate++
		} else {
			res.EdgesInserted++
		}
	}
	return br.Close()
}

// Clear removes every graph row. Transcript tables are untouched.
func (s *GraphDBStorage) Clear(ctx context.Context) (common.ClearResult, error) {
	var res common.ClearResult

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	steps := []struct {
		sql string
		n   *int64
	}{
		{`DELETE FROM kg_edges`, &res.Edges},
		{`DELETE FROM kg_aliases`, &res.Aliases},
		{`DELETE FROM kg_sitting_seeds`, &res.SittingSeeds},
		{`DELETE FROM kg_nodes`, &res.Nodes},
	}
	for _, st := range steps {
		tag, err := tx.Exec(ctx, st.sql)
		if err != nil {
			return common.ClearResult{}, err
		}
		*st.n = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return common.ClearResult{}, err
	}
	return res, nil
}
