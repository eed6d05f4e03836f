package graph

import (
	"fmt"
	"strings"

	"github.com/hansard-kg/engine/pkg/common"
)

// Issue is one rule an extraction answer broke. Index fields are -1 when the
// issue is not tied to a node or an edge.
type Issue struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	EdgeIndex int    `json:"edge_index"`
	NodeIndex int    `json:"node_index"`
}

func (i Issue) String() string {
	s := fmt.Sprintf("- %s: %s", i.Code, i.Message)
	if i.EdgeIndex >= 0 {
		s += fmt.Sprintf(" (edge_index=%d)", i.EdgeIndex)
	}
	if i.NodeIndex >= 0 {
		s += fmt.Sprintf(" (node_index=%d)", i.NodeIndex)
	}
	return s
}

func edgeIssue(idx int, code, msg string) Issue {
	return Issue{Code: code, Message: msg, EdgeIndex: idx, NodeIndex: -1}
}

func nodeIssue(idx int, code, msg string) Issue {
	return Issue{Code: code, Message: msg, EdgeIndex: -1, NodeIndex: idx}
}

// FormatIssues renders issues for the repair prompt.
func FormatIssues(issues []Issue) string {
	if len(issues) == 0 {
		return "- (none detected)"
	}
	lines := make([]string, len(issues))
	for i, is := range issues {
		lines[i] = is.String()
	}
	return strings.Join(lines, "\n")
}

// Scope is what an answer is validated against: the window it was
// extracted from and the known node ids the prompt offered.
type Scope struct {
	Window common.Window
	Known  map[string]struct{}
}

// NewScope builds a Scope from the candidates shown to the model.
func NewScope(w common.Window, known []Candidate) Scope {
	s := Scope{Window: w, Known: make(map[string]struct{}, len(known))}
	for _, c := range known {
		s.Known[c.Node.ID] = struct{}{}
	}
	return s
}

// spokenIn reports whether evidence quotes what was said in w. The citation
// headers of the window text do not count.
func spokenIn(w common.Window, evidence string) bool {
	return evidence != "" && strings.Contains(windowContent(w), evidence)
}

// NormalizeSpeakerRef maps "speaker_X" and "s_X" to the speaker node id when
// the speaker spoke in the window. ok is false for speaker refs that do not
// belong to the window. Other refs are returned unchanged.
func NormalizeSpeakerRef(ref string, w common.Window) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if sid, found := strings.CutPrefix(ref, common.SpeakerNodePrefix); found {
		return ref, w.HasSpeaker(sid)
	}
	if strings.HasPrefix(ref, "s_") {
		return common.SpeakerNodeID(ref), w.HasSpeaker(ref)
	}
	return ref, true
}

func isSpeakerRef(ref string) bool {
	return strings.HasPrefix(ref, common.SpeakerNodePrefix) || strings.HasPrefix(ref, "s_")
}

// Validate checks d against every extraction rule and returns all issues.
// An empty result means the answer may be canonicalized.
func Validate(d Draft, scope Scope) []Issue {
	var issues []Issue
	kind := scope.Window.Kind

	if d.shape.nodesNotList {
		issues = append(issues, Issue{Code: "nodes_new_not_list", Message: "nodes_new must be a list", EdgeIndex: -1, NodeIndex: -1})
	}
	if d.shape.edgesNotList {
		issues = append(issues, Issue{Code: "edges_not_list", Message: "edges must be a list", EdgeIndex: -1, NodeIndex: -1})
	}
	for _, i := range d.shape.badNodes {
		issues = append(issues, nodeIssue(i, "node_not_object", "node must be an object"))
	}
	for _, i := range d.shape.badEdges {
		issues = append(issues, edgeIssue(i, "edge_not_object", "edge must be an object"))
	}

	if kind == common.WindowDiscourse && len(d.NodesNew) > 0 {
		issues = append(issues, Issue{
			Code:      "discourse_nodes_new",
			Message:   "discourse windows must not create nodes",
			EdgeIndex: -1,
			NodeIndex: -1,
		})
	}

	temps := make(map[string]struct{}, len(d.NodesNew))
	for i, n := range d.NodesNew {
		id := strings.TrimSpace(n.TempID)
		switch {
		case id == "":
			issues = append(issues, nodeIssue(i, "node_missing_temp_id", "node missing temp_id"))
		default:
			if _, dup := temps[id]; dup {
				issues = append(issues, nodeIssue(i, "node_duplicate_temp_id", fmt.Sprintf("temp_id %q is declared twice", id)))
			}
			temps[id] = struct{}{}
		}
		if !common.NodeType(strings.TrimSpace(n.Type)).Valid() {
			issues = append(issues, nodeIssue(i, "node_type_invalid",
				"node type must be one of: "+common.JoinNodeTypes(common.NodeTypes)))
		}
		if strings.TrimSpace(n.Label) == "" || NormalizeLabel(n.Label) == "" {
			issues = append(issues, nodeIssue(i, "node_missing_label", "node missing label"))
		}
	}

	allowed := common.PredicatesFor(kind)
	for i, e := range d.Edges {
		if !common.NormalizePredicate(e.Predicate).AllowedFor(kind) {
			issues = append(issues, edgeIssue(i, "edge_predicate_invalid",
				fmt.Sprintf("predicate %q must be one of: %s", e.Predicate, common.JoinPredicates(allowed))))
		}

		evidence := e.Evidence
		switch {
		case strings.TrimSpace(evidence) == "":
			issues = append(issues, edgeIssue(i, "edge_missing_evidence", "edge missing evidence"))
		case !spokenIn(scope.Window, evidence):
			issues = append(issues, edgeIssue(i, "edge_evidence_not_substring",
				"evidence must be a direct substring of the transcript window"))
		}

		if len(e.UtteranceIDs) == 0 {
			issues = append(issues, edgeIssue(i, "edge_missing_utterance_ids", "edge must include non-empty utterance_ids list"))
		} else {
			var bad []string
			for _, uid := range e.UtteranceIDs {
				if !scope.Window.HasUtterance(uid) {
					bad = append(bad, uid)
				}
			}
			if len(bad) > 0 {
				issues = append(issues, edgeIssue(i, "edge_bad_utterance_ids",
					fmt.Sprintf("utterance_ids not in window: %v", bad)))
			}
		}

		for _, ref := range []struct{ name, value string }{
			{"source_ref", e.SourceRef},
			{"target_ref", e.TargetRef},
		} {
			if is, ok := checkRef(i, ref.name, ref.value, temps, scope); !ok {
				issues = append(issues, is)
			}
		}
	}

	return issues
}

func checkRef(edge int, name, ref string, temps map[string]struct{}, scope Scope) (Issue, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return edgeIssue(edge, "edge_missing_"+name, "edge missing "+name), false
	}
	if _, ok := scope.Known[ref]; ok {
		return Issue{}, true
	}
	if _, ok := temps[ref]; ok {
		return Issue{}, true
	}
	if isSpeakerRef(ref) {
		if _, ok := NormalizeSpeakerRef(ref, scope.Window); ok {
			return Issue{}, true
		}
		return edgeIssue(edge, "edge_invalid_speaker_ref",
			fmt.Sprintf("%s %q references a speaker not present in the window", name, ref)), false
	}
	return edgeIssue(edge, "edge_unresolved_ref",
		fmt.Sprintf("%s %q is neither a known node id nor a declared temp_id", name, ref)), false
}
