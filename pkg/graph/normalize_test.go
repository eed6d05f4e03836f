package graph

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeDraft(t *testing.T) {
	w := waterBillWindow()
	d := Draft{
		NodesNew: []DraftNode{{TempID: " n1 ", Type: " schema:Legislation ", Label: "Water Bill"}},
		Edges: []DraftEdge{{
			SourceRef:    " s_minister ",
			Predicate:    " PROPOSES ",
			TargetRef:    "n1",
			Evidence:     waterBillEvidence,
			UtteranceIDs: FlexStrings{"100", " ", "vid1:115"},
		}},
	}
	normalizeDraft(&d, w)

	if d.NodesNew[0].TempID != "n1" || d.NodesNew[0].Type != "schema:Legislation" {
		t.Fatalf("expected trimmed node, got %+v", d.NodesNew[0])
	}
	e := d.Edges[0]
	if e.SourceRef != "speaker_s_minister" || e.Predicate != "PROPOSES" {
		t.Fatalf("unexpected edge refs %+v", e)
	}
	if !reflect.DeepEqual(e.UtteranceIDs, FlexStrings{"vid1:100", "vid1:115"}) {
		t.Fatalf("unexpected utterance ids %v", e.UtteranceIDs)
	}
}

func TestRealignEvidence(t *testing.T) {
	w := waterBillWindow()
	tests := []struct {
		name     string
		evidence string
		ids      FlexStrings
		want     string
	}{
		{"substring is kept", waterBillEvidence, FlexStrings{"vid1:100"}, waterBillEvidence},
		{
			"paraphrase snaps to the matching run",
			"the Bill aims to reduce non-revenue water on the island",
			FlexStrings{"vid1:115"},
			"Bill aims to reduce non-revenue water across the island.",
		},
		{
			"no overlap starts at the utterance",
			"they asked about timing",
			FlexStrings{"vid1:130"},
			"Will the Minister say when the Bill will be laid in this House?",
		},
		{
			"citation header snaps to the utterance",
			"speaker_id=s_minister] Madam",
			FlexStrings{"vid1:100"},
			"Madam Speaker, this Government will bring the Water Bill to moderniz",
		},
		{"unknown utterance keeps evidence", "made up", FlexStrings{"vid1:999"}, "made up"},
		{"no utterances keeps evidence", "made up", nil, "made up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := realignEvidence(tt.evidence, tt.ids, w)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if tt.want != "made up" && !strings.Contains(w.Text, got) {
				t.Fatalf("realigned evidence must be a substring of the window")
			}
		})
	}
}

func TestRealignEvidence_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	w := newWindow(0, "concept", nil)
	w.Text = "[utterance_id=v:1 t=00:00:01 speaker_id=s_a] " + long
	w.Utterances = append(w.Utterances, waterBillUtterances()[0])
	w.Utterances[0].ID = "v:1"
	w.Utterances[0].Text = long

	got := realignEvidence("short", FlexStrings{"v:1"}, w)
	if len(got) != evidenceMinSnippet-1 {
		t.Fatalf("expected a %d byte snippet, got %d", evidenceMinSnippet-1, len(got))
	}
}
