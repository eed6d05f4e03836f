// Package memory is an in-process store.GraphStorage. It mirrors the
// PostgreSQL semantics closely enough for pipeline tests and dry runs.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/store"
)

var _ store.GraphStorage = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	utterances map[string][]common.Utterance
	speakers   map[string]common.Speaker

	nodes   map[string]common.Node
	aliases map[string]common.Alias
	edges   map[string]common.Edge
	seeds   map[string][]string

	now func() time.Time
}

func New() *Store {
	return &Store{
		utterances: make(map[string][]common.Utterance),
		speakers:   make(map[string]common.Speaker),
		nodes:      make(map[string]common.Node),
		aliases:    make(map[string]common.Alias),
		edges:      make(map[string]common.Edge),
		seeds:      make(map[string][]string),
		now:        time.Now,
	}
}

// AddUtterances loads transcript rows. Sittings are kept sorted by seconds.
func (s *Store) AddUtterances(us ...common.Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range us {
		s.utterances[u.VideoID] = append(s.utterances[u.VideoID], u)
	}
	for vid := range s.utterances {
		slices.SortStableFunc(s.utterances[vid], func(a, b common.Utterance) int {
			return cmp.Or(cmp.Compare(a.Seconds, b.Seconds), cmp.Compare(a.ID, b.ID))
		})
	}
}

func (s *Store) AddSpeakers(sps ...common.Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range sps {
		s.speakers[sp.ID] = sp
	}
}

func (s *Store) GetUtterances(ctx context.Context, videoID string) ([]common.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.utterances[videoID]), nil
}

func (s *Store) GetUtterancesByID(ctx context.Context, ids []string) ([]common.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := toSet(ids)
	var out []common.Utterance
	for _, vid := range sortedKeys(s.utterances) {
		for _, u := range s.utterances[vid] {
			if _, ok := want[u.ID]; ok {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (s *Store) GetSpeakers(ctx context.Context, ids []string) ([]common.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Speaker
	for _, id := range slices.Sorted(slices.Values(store.DedupeStrings(ids))) {
		if sp, ok := s.speakers[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *Store) ListSpeakers(ctx context.Context) ([]common.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Speaker, 0, len(s.speakers))
	for _, id := range sortedKeys(s.speakers) {
		out = append(out, s.speakers[id])
	}
	return out, nil
}

func (s *Store) ListVideos(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.utterances), nil
}

func (s *Store) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Node
	for _, id := range slices.Sorted(slices.Values(store.DedupeStrings(ids))) {
		if n, ok := s.nodes[id]; ok {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

func (s *Store) SimilarNodes(ctx context.Context, embedding []float32, k int) ([]common.ScoredNode, error) {
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.ScoredNode
	for _, n := range s.nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		d := cosineDistance(embedding, n.Embedding)
		out = append(out, common.ScoredNode{Node: cloneNode(n), Distance: d, Score: 1 - d})
	}
	slices.SortFunc(out, func(a, b common.ScoredNode) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.Node.ID, b.Node.ID))
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) NodesByAlias(ctx context.Context, norms []string, limit int) ([]common.Node, error) {
	if len(norms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(norms)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := toSet(norms)
	hit := map[string]struct{}{}
	for norm, a := range s.aliases {
		if _, ok := want[norm]; ok {
			hit[a.NodeID] = struct{}{}
		}
	}
	for id, n := range s.nodes {
		for _, a := range n.Aliases {
			if _, ok := want[a]; ok {
				hit[id] = struct{}{}
				break
			}
		}
	}

	var out []common.Node
	for _, id := range sortedKeys(hit) {
		if n, ok := s.nodes[id]; ok {
			out = append(out, cloneNode(n))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// SearchNodesFullText scores nodes by the share of query terms found in
// their label and aliases, then rescales so the best hit scores 1.
func (s *Store) SearchNodesFullText(ctx context.Context, query string, limit int) ([]common.ScoredNode, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.ScoredNode
	for _, n := range s.nodes {
		doc := toSet(strings.Fields(strings.ToLower(n.Label + " " + strings.Join(n.Aliases, " "))))
		hits := 0
		for _, t := range terms {
			if _, ok := doc[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, common.ScoredNode{Node: cloneNode(n), Score: float64(hits) / float64(len(terms))})
	}
	slices.SortFunc(out, func(a, b common.ScoredNode) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.Node.ID, b.Node.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if len(out) > 0 && out[0].Score > 0 {
		best := out[0].Score
		for i := range out {
			out[i].Score /= best
		}
	}
	return out, nil
}

func (s *Store) SittingSeedNodes(ctx context.Context, videoID string) ([]common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Node
	for _, id := range slices.Sorted(slices.Values(s.seeds[videoID])) {
		if n, ok := s.nodes[id]; ok {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

func (s *Store) AddSittingSeeds(ctx context.Context, videoID string, nodeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		if _, ok := s.nodes[id]; !ok {
			return fmt.Errorf("sitting seed references unknown node %s", id)
		}
	}
	s.seeds[videoID] = store.DedupeStrings(append(s.seeds[videoID], nodeIDs...))
	return nil
}

func (s *Store) NodesMissingEmbedding(ctx context.Context, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Node
	for _, id := range sortedKeys(s.nodes) {
		if len(s.nodes[id].Embedding) == 0 {
			out = append(out, cloneNode(s.nodes[id]))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SetNodeEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("got %d ids and %d embeddings", len(ids), len(embeddings))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		n, ok := s.nodes[id]
		if !ok || len(n.Embedding) > 0 || len(embeddings[i]) == 0 {
			continue
		}
		n.Embedding = slices.Clone(embeddings[i])
		n.UpdatedAt = s.now()
		s.nodes[id] = n
	}
	return nil
}

// ApplyDelta follows the same rules as the SQL store: aliases are unioned,
// the first embedding wins, aliases and edges ignore conflicts and edges
// with a missing endpoint are skipped.
func (s *Store) ApplyDelta(ctx context.Context, delta common.GraphDelta) (common.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return common.ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res common.ApplyResult
	now := s.now()

	for _, n := range delta.Nodes {
		cur, ok := s.nodes[n.ID]
		if !ok {
			n = cloneNode(n)
			if n.Aliases == nil {
				n.Aliases = []string{}
			}
			n.CreatedAt, n.UpdatedAt = now, now
			s.nodes[n.ID] = n
			res.NodesInserted++
			continue
		}
		cur.Aliases = unionOrdered(cur.Aliases, n.Aliases)
		if len(cur.Embedding) == 0 && len(n.Embedding) > 0 {
			cur.Embedding = slices.Clone(n.Embedding)
		}
		cur.UpdatedAt = now
		s.nodes[n.ID] = cur
		res.NodesMerged++
	}

	for _, a := range delta.Aliases {
		if _, ok := s.aliases[a.Norm]; ok {
			continue
		}
		if _, ok := s.nodes[a.NodeID]; !ok {
			return common.ApplyResult{}, fmt.Errorf("alias %q references unknown node %s", a.Norm, a.NodeID)
		}
		s.aliases[a.Norm] = a
		res.AliasesInserted++
	}

	for _, e := range delta.Edges {
		_, okSrc := s.nodes[e.SourceID]
		_, okTgt := s.nodes[e.TargetID]
		if !okSrc || !okTgt {
			res.EdgesSkippedMissingNodes++
			continue
		}
		if _, ok := s.edges[e.ID]; ok {
			res.EdgesDuplicate++
			continue
		}
		e.UtteranceIDs = slices.Clone(e.UtteranceIDs)
		e.SpeakerIDs = slices.Clone(e.SpeakerIDs)
		e.CreatedAt = now
		s.edges[e.ID] = e
		res.EdgesInserted++
	}

	return res, nil
}

func (s *Store) Clear(ctx context.Context) (common.ClearResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := common.ClearResult{
		Edges:   int64(len(s.edges)),
		Aliases: int64(len(s.aliases)),
		Nodes:   int64(len(s.nodes)),
	}
	for _, ids := range s.seeds {
		res.SittingSeeds += int64(len(ids))
	}
	s.edges = make(map[string]common.Edge)
	s.aliases = make(map[string]common.Alias)
	s.seeds = make(map[string][]string)
	s.nodes = make(map[string]common.Node)
	return res, nil
}

func (s *Store) EdgesTouching(
	ctx context.Context,
	nodeIDs []string,
	excludeEdgeIDs []string,
	limit int,
) ([]common.Edge, error) {
	if len(nodeIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	touch := toSet(nodeIDs)
	skip := toSet(excludeEdgeIDs)
	var out []common.Edge
	for id, e := range s.edges {
		if _, ok := skip[id]; ok {
			continue
		}
		_, okSrc := touch[e.SourceID]
		_, okTgt := touch[e.TargetID]
		if okSrc || okTgt {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b common.Edge) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(a.EarliestSeconds, b.EarliestSeconds),
			cmp.Compare(a.ID, b.ID),
		)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountEdges(ctx context.Context, nodeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.edges {
		if e.SourceID == nodeID || e.TargetID == nodeID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListNodes(ctx context.Context, afterID string, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 500
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Node
	for _, id := range sortedKeys(s.nodes) {
		if id <= afterID {
			continue
		}
		out = append(out, cloneNode(s.nodes[id]))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListEdges(ctx context.Context, filter store.EdgeFilter) ([]common.Edge, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Edge
	for _, id := range sortedKeys(s.edges) {
		e := s.edges[id]
		if id <= filter.AfterID {
			continue
		}
		if filter.VideoID != "" && e.VideoID != filter.VideoID {
			continue
		}
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Aliases returns a copy of the alias table keyed by normalized form.
func (s *Store) Aliases() map[string]common.Alias {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]common.Alias, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

func cloneNode(n common.Node) common.Node {
	n.Aliases = slices.Clone(n.Aliases)
	n.Embedding = slices.Clone(n.Embedding)
	return n
}

func unionOrdered(a, b []string) []string {
	out := slices.Clone(a)
	seen := toSet(a)
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func toSet(vs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		out[v] = struct{}{}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
