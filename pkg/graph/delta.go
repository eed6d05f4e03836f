package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/store"
)

// DeltaMeta is the audit metadata stamped on every edge of a delta.
type DeltaMeta struct {
	RunID          string
	ExtractorModel string
}

// DeltaStats counts what canonicalization resolved or skipped.
type DeltaStats struct {
	LinksToKnown                  int
	EndpointRefs                  int
	EdgesSkippedInvalidSpeakerRef int
}

// canonicalStore is the part of the store the canonicalizer reads.
type canonicalStore interface {
	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)
	GetSpeakers(ctx context.Context, ids []string) ([]common.Speaker, error)
}

// Canonicalizer turns a validated draft into store-ready rows with stable
// ids. It never writes; the caller applies the delta.
type Canonicalizer struct {
	store      canonicalStore
	embedder   ai.EmbeddingProvider
	aiRetry    util.RetryPolicy
	storeRetry util.RetryPolicy
	batchSize  int
}

type NewCanonicalizerParams struct {
	Store      store.GraphStorage
	Embedder   ai.EmbeddingProvider
	AIRetry    util.RetryPolicy
	StoreRetry util.RetryPolicy
	// BatchSize bounds one embedding request.
	BatchSize int
}

func NewCanonicalizer(params NewCanonicalizerParams) (*Canonicalizer, error) {
	if params.Store == nil {
		return nil, errors.New("canonicalizer: store is nil")
	}
	if params.Embedder == nil {
		return nil, errors.New("canonicalizer: embedder is nil")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 32
	}
	return &Canonicalizer{
		store:      params.Store,
		embedder:   params.Embedder,
		aiRetry:    params.AIRetry,
		storeRetry: params.StoreRetry,
		batchSize:  batch,
	}, nil
}

// Canonicalize resolves temp ids and speaker refs to node ids, derives edge
// ids and provenance, and embeds nodes that have no embedding yet. The draft
// is validated against scope once more; a draft that does not validate is
// rejected with ErrWindowFailed.
//
// Every speaker of the window gets a speaker node so discourse edges and
// speaker-sourced edges always have both endpoints.
func (c *Canonicalizer) Canonicalize(
	ctx context.Context,
	scope Scope,
	d Draft,
	meta DeltaMeta,
) (common.GraphDelta, DeltaStats, error) {
	var stats DeltaStats
	w := scope.Window

	if issues := Validate(d, scope); len(issues) > 0 {
		return common.GraphDelta{}, stats, fmt.Errorf("%w: %d issues, first: %s", ErrWindowFailed, len(issues), issues[0].Code)
	}

	delta := common.GraphDelta{VideoID: w.VideoID}
	nodes := map[string]*common.Node{}
	var order []string
	aliasSeen := map[string]struct{}{}

	addNode := func(n common.Node, aliases []common.Alias) {
		if cur, ok := nodes[n.ID]; ok {
			cur.Aliases = unionStrings(cur.Aliases, n.Aliases)
		} else {
			n.Aliases = slices.Clone(n.Aliases)
			nodes[n.ID] = &n
			order = append(order, n.ID)
		}
		for _, a := range aliases {
			if _, ok := aliasSeen[a.Norm]; ok {
				continue
			}
			aliasSeen[a.Norm] = struct{}{}
			delta.Aliases = append(delta.Aliases, a)
		}
	}

	temps := make(map[string]string, len(d.NodesNew))
	for _, dn := range d.NodesNew {
		n, aliases := extractedNode(dn)
		temps[dn.TempID] = n.ID
		addNode(n, aliases)
	}

	speakers, err := util.RetryWithPolicy(ctx, c.storeRetry, func(ctx context.Context) ([]common.Speaker, error) {
		return c.store.GetSpeakers(ctx, w.SpeakerIDs)
	})
	if err != nil {
		return common.GraphDelta{}, stats, storeErr("get speakers", err)
	}
	speakerMeta := make(map[string]common.Speaker, len(speakers))
	for _, sp := range speakers {
		speakerMeta[sp.ID] = sp
	}
	for _, sid := range w.SpeakerIDs {
		var sp *common.Speaker
		if m, ok := speakerMeta[sid]; ok {
			sp = &m
		}
		addNode(SpeakerNode(sid, sp))
	}

	edgeSeen := map[string]struct{}{}
	for _, de := range d.Edges {
		src, srcKnown, ok := resolveRef(de.SourceRef, temps, scope)
		if !ok {
			stats.EdgesSkippedInvalidSpeakerRef++
			continue
		}
		tgt, tgtKnown, ok := resolveRef(de.TargetRef, temps, scope)
		if !ok {
			stats.EdgesSkippedInvalidSpeakerRef++
			continue
		}
		stats.EndpointRefs += 2
		if srcKnown {
			stats.LinksToKnown++
		}
		if tgtKnown {
			stats.LinksToKnown++
		}

		e := buildEdge(de, src, tgt, w, meta)
		if _, dup := edgeSeen[e.ID]; dup {
			continue
		}
		edgeSeen[e.ID] = struct{}{}
		delta.Edges = append(delta.Edges, e)
	}

	delta.Nodes = make([]common.Node, 0, len(order))
	for _, id := range order {
		delta.Nodes = append(delta.Nodes, *nodes[id])
	}
	if err := c.embedMissing(ctx, delta.Nodes); err != nil {
		return common.GraphDelta{}, stats, err
	}
	return delta, stats, nil
}

// embedMissing fills document embeddings for nodes that are new or whose
// stored row has none. Stored embeddings are never replaced.
func (c *Canonicalizer) embedMissing(ctx context.Context, nodes []common.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	existing, err := util.RetryWithPolicy(ctx, c.storeRetry, func(ctx context.Context) ([]common.Node, error) {
		return c.store.GetNodes(ctx, ids)
	})
	if err != nil {
		return storeErr("get nodes", err)
	}
	embedded := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		if len(n.Embedding) > 0 {
			embedded[n.ID] = struct{}{}
		}
	}

	var idx []int
	var inputs [][]byte
	for i, n := range nodes {
		if _, ok := embedded[n.ID]; ok {
			continue
		}
		idx = append(idx, i)
		inputs = append(inputs, []byte(n.Label))
	}
	if len(inputs) == 0 {
		return nil
	}
	vecs, err := util.RetryWithPolicy(ctx, c.aiRetry, func(ctx context.Context) ([][]float32, error) {
		return store.GenerateEmbeddings(ctx, c.embedder, inputs, ai.EmbeddingModeDocument, c.batchSize, 1)
	})
	if err != nil {
		return providerErr("embed nodes", err)
	}
	for j, i := range idx {
		nodes[i].Embedding = vecs[j]
	}
	return nil
}

// extractedNode canonicalizes a declared node and its alias rows.
func extractedNode(dn DraftNode) (common.Node, []common.Alias) {
	typ := common.NodeType(strings.TrimSpace(dn.Type))
	label := strings.TrimSpace(dn.Label)
	n := common.Node{ID: NodeID(typ, label), Type: typ, Label: label}

	raws := append([]string{label}, dn.Aliases...)
	aliases := make([]common.Alias, 0, len(raws))
	for _, raw := range raws {
		norm := NormalizeLabel(raw)
		if norm == "" || slices.Contains(n.Aliases, norm) {
			continue
		}
		n.Aliases = append(n.Aliases, norm)
		aliases = append(aliases, common.Alias{
			Norm:   norm,
			Raw:    strings.TrimSpace(raw),
			NodeID: n.ID,
			Type:   typ,
			Source: common.AliasExtracted,
		})
	}
	return n, aliases
}

// resolveRef maps a ref to a node id. known reports whether the endpoint
// is a candidate node that existed before this delta, including temp nodes
// that canonicalize onto one. ok is false for speaker refs that do not
// belong to the window.
func resolveRef(ref string, temps map[string]string, scope Scope) (id string, known bool, ok bool) {
	ref = strings.TrimSpace(ref)
	if id, isTemp := temps[ref]; isTemp {
		_, isKnown := scope.Known[id]
		return id, isKnown, true
	}
	if _, isKnown := scope.Known[ref]; isKnown {
		return ref, true, true
	}
	if isSpeakerRef(ref) {
		norm, valid := NormalizeSpeakerRef(ref, scope.Window)
		if !valid {
			return "", false, false
		}
		_, isKnown := scope.Known[norm]
		return norm, isKnown, true
	}
	return ref, false, true
}

// buildEdge derives provenance from the cited utterances. The earliest
// cited utterance dates the edge; the window start is the fallback.
func buildEdge(de DraftEdge, src, tgt string, w common.Window, meta DeltaMeta) common.Edge {
	pred := common.NormalizePredicate(de.Predicate)

	uids := make([]string, 0, len(de.UtteranceIDs))
	var speakers []string
	earliestSec, earliestTS := w.EarliestSeconds, w.EarliestTimestamp
	found := false
	for _, id := range de.UtteranceIDs {
		if slices.Contains(uids, id) {
			continue
		}
		uids = append(uids, id)
		u, ok := w.Utterance(id)
		if !ok {
			continue
		}
		if u.SpeakerID != "" && !slices.Contains(speakers, u.SpeakerID) {
			speakers = append(speakers, u.SpeakerID)
		}
		if !found || u.Seconds < earliestSec {
			earliestSec, earliestTS = u.Seconds, u.Timestamp
			found = true
		}
	}
	if earliestTS == "" {
		earliestTS = util.FormatTimestamp(earliestSec)
	}

	return common.Edge{
		ID:                EdgeID(src, pred, tgt, w.VideoID, earliestSec, de.Evidence),
		SourceID:          src,
		Predicate:         pred,
		PredicateRaw:      de.Predicate,
		TargetID:          tgt,
		VideoID:           w.VideoID,
		EarliestTimestamp: earliestTS,
		EarliestSeconds:   earliestSec,
		UtteranceIDs:      uids,
		Evidence:          de.Evidence,
		SpeakerIDs:        speakers,
		Confidence:        normalizeConfidence(de.Confidence),
		ExtractorModel:    meta.ExtractorModel,
		RunID:             meta.RunID,
	}
}

func unionStrings(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
