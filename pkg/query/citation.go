package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/store"
)

// VideoURL links to a moment of a sitting. Negative offsets start at 0.
func VideoURL(videoID string, seconds int) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", videoID, max(seconds, 0))
}

type pick struct {
	utteranceID string
	edgeID      string
}

// selectCitations picks up to limit utterances round-robin over the ranked
// edges: every edge first contributes its earliest uncited utterance, then
// its next one, and so on. Breadth over edges beats depth on any single one.
func selectCitations(edges []Edge, ordered map[string][]string, limit int) []pick {
	cursor := make([]int, len(edges))
	cited := map[string]struct{}{}
	var out []pick
	for len(out) < limit {
		progressed := false
		for i, e := range edges {
			if len(out) == limit {
				break
			}
			uids := ordered[e.ID]
			for cursor[i] < len(uids) {
				uid := uids[cursor[i]]
				cursor[i]++
				if _, ok := cited[uid]; ok {
					continue
				}
				cited[uid] = struct{}{}
				out = append(out, pick{utteranceID: uid, edgeID: e.ID})
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// citations hydrates the picked utterances with their transcript rows and
// speaker names.
func (r *Retriever) citations(ctx context.Context, edges []Edge, limit int) ([]Citation, error) {
	var ids []string
	for _, e := range edges {
		ids = append(ids, e.UtteranceIDs...)
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 || limit <= 0 {
		return []Citation{}, nil
	}

	rows, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Utterance, error) {
		return r.store.GetUtterancesByID(ctx, ids)
	})
	if err != nil {
		return nil, &graph.StoreError{Op: "citation utterances", Err: err}
	}
	byID := make(map[string]common.Utterance, len(rows))
	for _, u := range rows {
		byID[u.ID] = u
	}

	// Each edge's utterances, earliest first. Ids without a transcript row
	// cannot be cited.
	ordered := make(map[string][]string, len(edges))
	for _, e := range edges {
		var uids []string
		for _, id := range e.UtteranceIDs {
			if _, ok := byID[id]; ok && !slices.Contains(uids, id) {
				uids = append(uids, id)
			}
		}
		slices.SortFunc(uids, func(a, b string) int {
			return cmp.Or(cmp.Compare(byID[a].Seconds, byID[b].Seconds), cmp.Compare(a, b))
		})
		ordered[e.ID] = uids
	}

	picks := selectCitations(edges, ordered, limit)
	var speakerIDs []string
	for _, p := range picks {
		if sid := byID[p.utteranceID].SpeakerID; sid != "" {
			speakerIDs = append(speakerIDs, sid)
		}
	}
	names, err := r.speakerNames(ctx, store.DedupeStrings(speakerIDs))
	if err != nil {
		return nil, err
	}

	out := make([]Citation, 0, len(picks))
	for _, p := range picks {
		u := byID[p.utteranceID]
		name := names[u.SpeakerID]
		if name == "" {
			name = u.SpeakerID
		}
		ts := u.Timestamp
		if ts == "" {
			ts = util.FormatTimestamp(max(u.Seconds, 0))
		}
		out = append(out, Citation{
			UtteranceID:  u.ID,
			EdgeID:       p.edgeID,
			SpeakerID:    u.SpeakerID,
			SpeakerName:  name,
			Text:         u.Text,
			TimestampStr: ts,
			Seconds:      u.Seconds,
			VideoID:      u.VideoID,
			VideoTitle:   u.VideoTitle,
			VideoDate:    u.VideoDate,
			URL:          VideoURL(u.VideoID, u.Seconds),
		})
	}
	return out, nil
}

func (r *Retriever) speakerNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	speakers, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Speaker, error) {
		return r.store.GetSpeakers(ctx, ids)
	})
	if err != nil {
		return nil, &graph.StoreError{Op: "citation speakers", Err: err}
	}
	for _, sp := range speakers {
		name := strings.TrimSpace(sp.FullName)
		if name == "" {
			name = strings.TrimSpace(sp.NormalizedName)
		}
		names[sp.ID] = name
	}
	return names, nil
}
