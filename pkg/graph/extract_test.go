package graph

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
)

func newTestExtractor(t *testing.T, c ai.CompletionProvider) *Extractor {
	t.Helper()
	x, err := NewExtractor(NewExtractorParams{Completion: c})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	return x
}

func TestExtract_DraftThenAdditions(t *testing.T) {
	w := waterBillWindow()
	add := Additions{
		NodesNewAdd: []DraftNode{{TempID: "n1", Type: string(common.TypeOrganization), Label: "Barbados Water Authority"}},
		EdgesAdd: []DraftEdge{
			{
				SourceRef:    "speaker_s_minister",
				Predicate:    "ASSOCIATED_WITH",
				TargetRef:    "n1",
				Evidence:     "modernize how the Barbados Water Authority is run",
				UtteranceIDs: FlexStrings{"100"},
			},
			{
				SourceRef:    "n1",
				Predicate:    "GOVERNS",
				TargetRef:    "kg_nowhere",
				Evidence:     "Barbados Water Authority",
				UtteranceIDs: FlexStrings{"vid1:100"},
			},
		},
	}
	// The added n1 clashes with the draft's n1 and is renamed. The second
	// edge points at an unknown id and is dropped.
	c := newScriptedCompletion(
		scriptedAnswer{raw: "```json\n" + mustJSON(t, validWaterBillDraft()) + "\n```"},
		scriptedAnswer{raw: mustJSON(t, add)},
	)
	x := newTestExtractor(t, c)

	res, scope, err := x.Extract(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Kind != ResultValidated || res.Branch != PassAdditions {
		t.Fatalf("expected validated additions result, got %s/%s", res.Kind, res.Branch)
	}
	if c.callCount() != 2 || len(res.Prompts) != 2 || len(res.Timings) != 2 {
		t.Fatalf("expected two passes, got %d calls", c.callCount())
	}
	if issues := Validate(res.Delta, scope); len(issues) != 0 {
		t.Fatalf("merged delta must validate, got %v", issueCodes(issues))
	}

	var temps []string
	for _, n := range res.Delta.NodesNew {
		temps = append(temps, n.TempID)
	}
	if !reflect.DeepEqual(temps, []string{"n1", "a1"}) {
		t.Fatalf("expected renamed addition temp id, got %v", temps)
	}
	if len(res.Delta.Edges) != 2 {
		t.Fatalf("expected draft edge plus one addition, got %d", len(res.Delta.Edges))
	}
	if got := res.Delta.Edges[1]; got.SourceRef != "speaker_s_minister" || got.TargetRef != "a1" {
		t.Fatalf("expected addition refs to follow the rename, got %s -> %s", got.SourceRef, got.TargetRef)
	}
	if got := res.Delta.Edges[1].UtteranceIDs; !reflect.DeepEqual(got, FlexStrings{"vid1:100"}) {
		t.Fatalf("expected bare seconds to be expanded, got %v", got)
	}

	first := c.calls[0].opts
	if first.Schema == nil || first.Schema.Name != "kg_delta" || first.Temperature != 0 {
		t.Fatalf("unexpected draft options %+v", first)
	}
	if !strings.Contains(c.calls[1].prompt, string(common.PredProposes)) {
		t.Fatalf("additions prompt should carry the predicate allowlist")
	}
}

func TestExtract_RepairsDisallowedPredicate(t *testing.T) {
	w := waterBillWindow()
	bad := validWaterBillDraft()
	bad.Edges[0].Predicate = "SUPPORTS"

	c := newScriptedCompletion(
		scriptedAnswer{raw: mustJSON(t, bad)},
		scriptedAnswer{raw: "Here is the corrected answer: " + mustJSON(t, validWaterBillDraft())},
	)
	x := newTestExtractor(t, c)

	res, _, err := x.Extract(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Kind != ResultValidated || res.Branch != PassRepair {
		t.Fatalf("expected repaired result, got %s/%s", res.Kind, res.Branch)
	}
	if got := res.Delta.Edges[0].Predicate; got != "PROPOSES" {
		t.Fatalf("expected repaired predicate, got %s", got)
	}
	if !strings.Contains(c.calls[1].prompt, "edge_predicate_invalid") {
		t.Fatalf("repair prompt should list the violations")
	}
}

func TestExtract_RepairStillInvalid(t *testing.T) {
	bad := validWaterBillDraft()
	bad.Edges[0].Predicate = "SUPPORTS"
	c := newScriptedCompletion(
		scriptedAnswer{raw: mustJSON(t, bad)},
		scriptedAnswer{raw: mustJSON(t, bad)},
	)
	res, _, err := newTestExtractor(t, c).Extract(context.Background(), waterBillWindow(), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Kind != ResultSchemaViolation {
		t.Fatalf("expected schema violation, got %s", res.Kind)
	}
	if !reflect.DeepEqual(issueCodes(res.Issues), []string{"edge_predicate_invalid"}) {
		t.Fatalf("unexpected issues %v", issueCodes(res.Issues))
	}
}

func TestExtract_ParseFailure(t *testing.T) {
	c := newScriptedCompletion(scriptedAnswer{raw: "I am unable to produce a graph for this text."})
	res, _, err := newTestExtractor(t, c).Extract(context.Background(), waterBillWindow(), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Kind != ResultParseFailure {
		t.Fatalf("expected parse failure, got %s", res.Kind)
	}
	if len(res.Raw) != 1 {
		t.Fatalf("expected the raw answer to be kept, got %d", len(res.Raw))
	}
}

func TestExtract_ProviderError(t *testing.T) {
	c := newScriptedCompletion(scriptedAnswer{err: errors.New("connection refused")})
	_, _, err := newTestExtractor(t, c).Extract(context.Background(), waterBillWindow(), nil)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
}

func TestExtract_EmptyResponseRetriesWithoutSchema(t *testing.T) {
	c := newScriptedCompletion(
		scriptedAnswer{err: ai.ErrEmptyResponse},
		scriptedAnswer{raw: mustJSON(t, validWaterBillDraft())},
		scriptedAnswer{raw: emptyAdditions},
	)
	res, _, err := newTestExtractor(t, c).Extract(context.Background(), waterBillWindow(), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected validated result, got %s", res.Kind)
	}
	if c.calls[0].opts.Schema == nil || c.calls[1].opts.Schema != nil {
		t.Fatalf("expected the fallback call to drop the schema")
	}
}

func TestExtract_AdditionsFailureKeepsDraft(t *testing.T) {
	c := newScriptedCompletion(
		scriptedAnswer{raw: mustJSON(t, validWaterBillDraft())},
		scriptedAnswer{err: errors.New("timeout")},
	)
	res, _, err := newTestExtractor(t, c).Extract(context.Background(), waterBillWindow(), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.OK() || len(res.Delta.Edges) != 1 {
		t.Fatalf("expected the draft to survive, got %s with %d edges", res.Kind, len(res.Delta.Edges))
	}
}

func TestExtract_DiscourseKeepsOnlySpeakerCandidates(t *testing.T) {
	w := newWindow(0, common.WindowDiscourse, waterBillUtterances()[1:])
	cands := []Candidate{
		{Node: common.Node{ID: "speaker_s_minister", Type: common.TypePerson, Label: "Ryan Straughn"}, Source: CandidateSpeaker, Pinned: true},
		{Node: common.Node{ID: "kg_bwa", Type: common.TypeOrganization, Label: "Barbados Water Authority"}, Source: CandidateVector},
	}
	c := newScriptedCompletion(scriptedAnswer{raw: `{"nodes_new": [], "edges": []}`}, scriptedAnswer{raw: emptyAdditions})
	_, scope, err := newTestExtractor(t, c).Extract(context.Background(), w, cands)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := scope.Known["kg_bwa"]; ok {
		t.Fatalf("discourse scope must not offer concept nodes")
	}
	if _, ok := scope.Known["speaker_s_minister"]; !ok {
		t.Fatalf("discourse scope must offer speaker nodes")
	}
	if strings.Contains(c.calls[0].prompt, "kg_bwa") {
		t.Fatalf("discourse prompt must not list concept nodes")
	}
}

func TestTargetEdges(t *testing.T) {
	if got := TargetEdges(common.Window{}); got != minTargetEdges {
		t.Fatalf("expected floor %d, got %d", minTargetEdges, got)
	}
	if got := TargetEdges(waterBillWindow()); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}
