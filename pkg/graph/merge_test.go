package graph

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/hansard-kg/engine/pkg/common"
)

func TestMergeAdditions(t *testing.T) {
	w := waterBillWindow()
	scope := NewScope(w, nil)
	base := validWaterBillDraft()

	tests := []struct {
		name        string
		add         Additions
		wantNodes   []string
		wantEdges   [][3]string
		wantDropped int
	}{
		{
			name:      "nothing to add",
			add:       Additions{},
			wantNodes: []string{"n1"},
			wantEdges: [][3]string{{"speaker_s_minister", "PROPOSES", "n1"}},
		},
		{
			name: "canonical duplicate node is folded into the draft node",
			add: Additions{
				NodesNewAdd: []DraftNode{{TempID: "x", Type: string(common.TypeLegislation), Label: "WATER-BILL"}},
				EdgesAdd: []DraftEdge{{
					SourceRef: "x", Predicate: "AIMS_TO_REDUCE", TargetRef: "speaker_s_minister",
					Evidence: "The Bill aims to reduce non-revenue water", UtteranceIDs: FlexStrings{"vid1:115"},
				}},
			},
			wantNodes: []string{"n1"},
			wantEdges: [][3]string{
				{"speaker_s_minister", "PROPOSES", "n1"},
				{"n1", "AIMS_TO_REDUCE", "speaker_s_minister"},
			},
		},
		{
			name: "duplicate edge is dropped",
			add: Additions{EdgesAdd: []DraftEdge{{
				SourceRef: "s_minister", Predicate: "proposes", TargetRef: "n1",
				Evidence: waterBillEvidence, UtteranceIDs: FlexStrings{"100"},
			}}},
			wantNodes:   []string{"n1"},
			wantEdges:   [][3]string{{"speaker_s_minister", "PROPOSES", "n1"}},
			wantDropped: 1,
		},
		{
			name: "invalid additions are discarded with their edges",
			add: Additions{
				NodesNewAdd: []DraftNode{{TempID: "n2", Type: "schema:Bill", Label: "Sewerage"}},
				EdgesAdd: []DraftEdge{{
					SourceRef: "n1", Predicate: "ADDRESSES", TargetRef: "n2",
					Evidence: "non-revenue water", UtteranceIDs: FlexStrings{"vid1:115"},
				}},
			},
			wantNodes:   []string{"n1"},
			wantEdges:   [][3]string{{"speaker_s_minister", "PROPOSES", "n1"}},
			wantDropped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, dropped := mergeAdditions(base, tt.add, scope)

			nodes := make([]string, 0, len(merged.NodesNew))
			for _, n := range merged.NodesNew {
				nodes = append(nodes, n.TempID)
			}
			edges := make([][3]string, 0, len(merged.Edges))
			for _, e := range merged.Edges {
				edges = append(edges, edgeTriple(e))
			}
			if !reflect.DeepEqual(nodes, tt.wantNodes) {
				t.Fatalf("expected nodes %v, got %v", tt.wantNodes, nodes)
			}
			if !reflect.DeepEqual(edges, tt.wantEdges) {
				t.Fatalf("expected edges %v, got %v", tt.wantEdges, edges)
			}
			if dropped != tt.wantDropped {
				t.Fatalf("expected %d dropped, got %d", tt.wantDropped, dropped)
			}
			if issues := Validate(merged, scope); len(issues) != 0 {
				t.Fatalf("merged draft must validate, got %v", issueCodes(issues))
			}
		})
	}

	if len(base.Edges) != 1 || len(base.NodesNew) != 1 {
		t.Fatalf("merge must not mutate the base draft")
	}
}

func edgeTriple(e DraftEdge) [3]string {
	return [3]string{e.SourceRef, e.Predicate, e.TargetRef}
}

func TestMergeAdditions_KeepsDraftEdges(t *testing.T) {
	scope := NewScope(waterBillWindow(), nil)
	raw := `{"nodes_new_add": [], "edges_add": [], "edges_delete": [{"source_ref": "s_minister", "predicate": "PROPOSES", "target_ref": "n1"}]}`
	var add Additions
	if err := json.Unmarshal([]byte(raw), &add); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	merged, dropped := mergeAdditions(validWaterBillDraft(), add, scope)
	if len(merged.NodesNew) != 1 || len(merged.Edges) != 1 || dropped != 0 {
		t.Fatalf("expected the draft to survive, got %d nodes %d edges %d dropped",
			len(merged.NodesNew), len(merged.Edges), dropped)
	}
	if got := edgeTriple(merged.Edges[0]); got != [3]string{"speaker_s_minister", "PROPOSES", "n1"} {
		t.Fatalf("unexpected edge %v", got)
	}
}
