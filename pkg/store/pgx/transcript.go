package pgx

import (
	"context"

	"github.com/hansard-kg/engine/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const utteranceColumns = `
	id,
	youtube_video_id,
	COALESCE(speaker_id, ''),
	seconds_since_start,
	COALESCE(timestamp_str, ''),
	text,
	COALESCE(video_title, ''),
	COALESCE(video_date::text, '')`

func scanUtterances(rows pgxv5.Rows) ([]common.Utterance, error) {
	defer rows.Close()
	var out []common.Utterance
	for rows.Next() {
		var u common.Utterance
		if err := rows.Scan(
			&u.ID, &u.VideoID, &u.SpeakerID, &u.Seconds,
			&u.Timestamp, &u.Text, &u.VideoTitle, &u.VideoDate,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetUtterances(ctx context.Context, videoID string) ([]common.Utterance, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+utteranceColumns+`
		FROM sentences
		WHERE youtube_video_id = $1
		ORDER BY seconds_since_start, id`, videoID)
	if err != nil {
		return nil, err
	}
	return scanUtterances(rows)
}

func (s *GraphDBStorage) GetUtterancesByID(ctx context.Context, ids []string) ([]common.Utterance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+utteranceColumns+`
		FROM sentences
		WHERE id = ANY($1)
		ORDER BY youtube_video_id, seconds_since_start, id`, ids)
	if err != nil {
		return nil, err
	}
	return scanUtterances(rows)
}

const speakerColumns = `id, COALESCE(normalized_name, ''), COALESCE(full_name, ''), COALESCE(title, '')`

func scanSpeakers(rows pgxv5.Rows) ([]common.Speaker, error) {
	defer rows.Close()
	var out []common.Speaker
	for rows.Next() {
		var sp common.Speaker
		if err := rows.Scan(&sp.ID, &sp.NormalizedName, &sp.FullName, &sp.Title); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetSpeakers(ctx context.Context, ids []string) ([]common.Speaker, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+speakerColumns+` FROM speakers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return scanSpeakers(rows)
}

func (s *GraphDBStorage) ListSpeakers(ctx context.Context) ([]common.Speaker, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+speakerColumns+` FROM speakers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanSpeakers(rows)
}

// ListVideos returns every sitting with at least one utterance, oldest first.
func (s *GraphDBStorage) ListVideos(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT youtube_video_id
		FROM sentences
		GROUP BY youtube_video_id
		ORDER BY min(video_date) NULLS LAST, youtube_video_id`)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, pgxv5.RowTo[string])
}
