package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hansard-kg/engine/pkg/common"
)

// resolvedKey identifies an edge after refs are mapped to canonical ids.
type resolvedKey struct {
	source    string
	predicate common.Predicate
	target    string
	evidence  string
}

// mergeAdditions folds the additions pass into a validated draft.
//
// Added temp ids that collide with draft temp ids are renamed to a{n}. An
// added node that canonicalizes to a draft node is dropped and its refs
// point at the draft node. Added edges whose resolved
// (source, predicate, target, evidence) is already in the draft are
// dropped. Added items that fail validation are discarded, so the draft is
// never lost.
func mergeAdditions(base Draft, add Additions, scope Scope) (Draft, int) {
	merged := base.Clone()
	nBaseNodes := len(merged.NodesNew)

	taken := make(map[string]struct{}, len(merged.NodesNew))
	byCanonical := make(map[string]string, len(merged.NodesNew))
	for _, n := range merged.NodesNew {
		taken[n.TempID] = struct{}{}
		byCanonical[NodeID(common.NodeType(n.Type), n.Label)] = n.TempID
	}

	remap := make(map[string]string, len(add.NodesNewAdd))
	counter := 1
	for _, n := range add.NodesNewAdd {
		old := strings.TrimSpace(n.TempID)
		if existing, ok := byCanonical[NodeID(common.NodeType(strings.TrimSpace(n.Type)), n.Label)]; ok && old != "" {
			remap[old] = existing
			continue
		}
		id := old
		for {
			if _, clash := taken[id]; !clash && id != "" {
				break
			}
			id = fmt.Sprintf("a%d", counter)
			counter++
		}
		taken[id] = struct{}{}
		if old != "" {
			remap[old] = id
		}
		n.TempID = id
		n.Aliases = slices.Clone(n.Aliases)
		merged.NodesNew = append(merged.NodesNew, n)
		byCanonical[NodeID(common.NodeType(strings.TrimSpace(n.Type)), n.Label)] = id
	}

	nBaseEdges := len(merged.Edges)

	seen := make(map[resolvedKey]struct{}, len(merged.Edges))
	for _, e := range merged.Edges {
		seen[resolveKey(e, merged, scope.Window)] = struct{}{}
	}
	dropped := 0
	for _, e := range add.EdgesAdd {
		e.UtteranceIDs = slices.Clone(e.UtteranceIDs)
		normalizeEdge(&e, scope.Window)
		if to, ok := remap[e.SourceRef]; ok {
			e.SourceRef = to
		}
		if to, ok := remap[e.TargetRef]; ok {
			e.TargetRef = to
		}
		k := resolveKey(e, merged, scope.Window)
		if _, dup := seen[k]; dup {
			dropped++
			continue
		}
		seen[k] = struct{}{}
		merged.Edges = append(merged.Edges, e)
	}

	merged, invalid := dropInvalidAdditions(merged, nBaseNodes, nBaseEdges, scope)
	return merged, dropped + invalid
}

// dropInvalidAdditions removes added nodes and edges that break a rule.
// Removing a node can orphan edges that point at it, so it repeats until the
// additions validate.
func dropInvalidAdditions(d Draft, nBaseNodes, nBaseEdges int, scope Scope) (Draft, int) {
	removed := 0
	for {
		issues := Validate(d, scope)
		badNodes := map[int]struct{}{}
		badEdges := map[int]struct{}{}
		for _, is := range issues {
			if is.NodeIndex >= nBaseNodes {
				badNodes[is.NodeIndex] = struct{}{}
			}
			if is.EdgeIndex >= nBaseEdges {
				badEdges[is.EdgeIndex] = struct{}{}
			}
			if is.Code == "discourse_nodes_new" && len(d.NodesNew) > nBaseNodes {
				for i := nBaseNodes; i < len(d.NodesNew); i++ {
					badNodes[i] = struct{}{}
				}
			}
		}
		if len(badNodes) == 0 && len(badEdges) == 0 {
			return d, removed
		}
		d.NodesNew = deleteIndexes(d.NodesNew, badNodes)
		d.Edges = deleteIndexes(d.Edges, badEdges)
		removed += len(badNodes) + len(badEdges)
	}
}

func deleteIndexes[T any](items []T, drop map[int]struct{}) []T {
	if len(drop) == 0 {
		return items
	}
	out := items[:0:0]
	for i, it := range items {
		if _, ok := drop[i]; !ok {
			out = append(out, it)
		}
	}
	return out
}

// resolveKey maps an edge's refs the way the canonicalizer will: temp ids
// to node ids and speaker refs to speaker node ids.
func resolveKey(e DraftEdge, d Draft, w common.Window) resolvedKey {
	temps := d.declaredNodes()
	resolve := func(ref string) string {
		if n, ok := temps[ref]; ok {
			return NodeID(common.NodeType(n.Type), n.Label)
		}
		if isSpeakerRef(ref) {
			norm, _ := NormalizeSpeakerRef(ref, w)
			return norm
		}
		return ref
	}
	return resolvedKey{
		source:    resolve(e.SourceRef),
		predicate: common.NormalizePredicate(e.Predicate),
		target:    resolve(e.TargetRef),
		evidence:  e.Evidence,
	}
}

func (d Draft) declaredNodes() map[string]DraftNode {
	out := make(map[string]DraftNode, len(d.NodesNew))
	for _, n := range d.NodesNew {
		if _, ok := out[n.TempID]; !ok && n.TempID != "" {
			out[n.TempID] = n
		}
	}
	return out
}
