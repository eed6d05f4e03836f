package pgx

import (
	"context"

	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const edgeColumns = `
	id, source_id, predicate, predicate_raw, target_id, youtube_video_id,
	earliest_timestamp_str, earliest_seconds, utterance_ids, evidence,
	speaker_ids, confidence, extractor_model, kg_run_id, created_at`

func collectEdges(rows pgxv5.Rows) ([]common.Edge, error) {
	defer rows.Close()
	var out []common.Edge
	for rows.Next() {
		var (
			e    common.Edge
			pred string
		)
		if err := rows.Scan(
			&e.ID, &e.SourceID, &pred, &e.PredicateRaw, &e.TargetID, &e.VideoID,
			&e.EarliestTimestamp, &e.EarliestSeconds, &e.UtteranceIDs, &e.Evidence,
			&e.SpeakerIDs, &e.Confidence, &e.ExtractorModel, &e.RunID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Predicate = common.Predicate(pred)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) EdgesTouching(
	ctx context.Context,
	nodeIDs []string,
	excludeEdgeIDs []string,
	limit int,
) ([]common.Edge, error) {
	if len(nodeIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+edgeColumns+`
		FROM kg_edges
		WHERE (source_id = ANY($1) OR target_id = ANY($1))
		  AND NOT (id = ANY($2))
		ORDER BY confidence DESC, earliest_seconds, id
		LIMIT $3`, nodeIDs, nonNil(excludeEdgeIDs), limit)
	if err != nil {
		return nil, err
	}
	return collectEdges(rows)
}

func (s *GraphDBStorage) CountEdges(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT count(*)
		FROM kg_edges
		WHERE source_id = $1 OR target_id = $1`, nodeID).Scan(&n)
	return n, err
}

// ListEdges pages edges in id order. Empty filter fields match all rows.
func (s *GraphDBStorage) ListEdges(ctx context.Context, filter store.EdgeFilter) ([]common.Edge, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.conn.Query(ctx, `SELECT `+edgeColumns+`
		FROM kg_edges
		WHERE ($1::text = '' OR youtube_video_id = $1)
		  AND ($2::text = '' OR kg_run_id = $2)
		  AND id > $3
		ORDER BY id
		LIMIT $4`, filter.VideoID, filter.RunID, filter.AfterID, limit)
	if err != nil {
		return nil, err
	}
	return collectEdges(rows)
}
