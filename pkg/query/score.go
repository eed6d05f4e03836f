package query

import (
	"cmp"
	"context"
	"slices"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/graph"
)

type expansion struct {
	edges []Edge
	// hops maps every reached node to its distance from the seeds.
	hops map[string]int
}

// expand walks up to p.Hops hops out from the seeds. Each hop asks the
// store for the best edges touching the frontier, bounded by what is left
// of p.MaxEdges, so the total never exceeds it. Nodes first reached at hop
// h become the frontier of hop h+1 and inherit the seed score of the node
// they were reached from.
func (r *Retriever) expand(ctx context.Context, seeds []Seed, p Params, tracer Tracer) (expansion, error) {
	exp := expansion{hops: make(map[string]int, len(seeds))}
	origin := make(map[string]float64, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		exp.hops[s.ID] = 0
		origin[s.ID] = s.Score
		frontier = append(frontier, s.ID)
	}

	var seen []string
	for hop := 1; hop <= p.Hops && len(frontier) > 0; hop++ {
		remaining := p.MaxEdges - len(exp.edges)
		if remaining <= 0 {
			break
		}
		rows, err := util.RetryWithPolicy(ctx, r.storeRetry, func(ctx context.Context) ([]common.Edge, error) {
			return r.store.EdgesTouching(ctx, frontier, seen, remaining)
		})
		if err != nil {
			return exp, &graph.StoreError{Op: "expand edges", Err: err}
		}
		if len(rows) > remaining {
			rows = rows[:remaining]
		}

		var next []string
		edgeIDs := make([]string, 0, len(rows))
		for _, e := range rows {
			vs := 0.0
			for _, id := range [2]string{e.SourceID, e.TargetID} {
				if h, ok := exp.hops[id]; ok && h < hop {
					vs = max(vs, origin[id])
				}
			}
			for _, id := range [2]string{e.SourceID, e.TargetID} {
				if _, ok := exp.hops[id]; ok {
					continue
				}
				exp.hops[id] = hop
				origin[id] = vs
				next = append(next, id)
			}
			exp.edges = append(exp.edges, edgeFromRow(e, hop, vs))
			seen = append(seen, e.ID)
			edgeIDs = append(edgeIDs, e.ID)
		}
		recordIDs(tracer, TraceEventEdgeIDs, hop, edgeIDs...)
		recordIDs(tracer, TraceEventExpandedNodeIDs, hop, next...)
		frontier = next
	}
	return exp, nil
}

func edgeFromRow(e common.Edge, hop int, vectorScore float64) Edge {
	return Edge{
		ID:                e.ID,
		SourceID:          e.SourceID,
		Predicate:         e.Predicate,
		PredicateRaw:      e.PredicateRaw,
		TargetID:          e.TargetID,
		VideoID:           e.VideoID,
		EarliestTimestamp: e.EarliestTimestamp,
		EarliestSeconds:   e.EarliestSeconds,
		UtteranceIDs:      e.UtteranceIDs,
		Evidence:          e.Evidence,
		SpeakerIDs:        e.SpeakerIDs,
		Confidence:        e.Confidence,
		Hop:               hop,
		VectorScore:       vectorScore,
	}
}

// scoreEdges fuses the seed score with a graph score that decays with
// distance: score = alpha*vector + (1-alpha)*confidence/hop. The result is
// ordered by score, ties by id.
func scoreEdges(edges []Edge, alpha float64) []Edge {
	out := slices.Clone(edges)
	if out == nil {
		out = []Edge{}
	}
	for i := range out {
		hop := max(out[i].Hop, 1)
		out[i].GraphScore = out[i].Confidence / float64(hop)
		out[i].Score = alpha*out[i].VectorScore + (1-alpha)*out[i].GraphScore
	}
	slices.SortStableFunc(out, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.ID, b.ID))
	})
	return out
}
