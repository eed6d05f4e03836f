package common

import "testing"

func TestNormalizePredicate(t *testing.T) {
	tests := []struct {
		in   string
		want Predicate
	}{
		{"proposes", PredProposes},
		{" aims to reduce ", PredAimsToReduce},
		{"requires-approval", PredRequiresApproval},
		{"DISAGREES_WITH", PredDisagreesWith},
	}
	for _, tc := range tests {
		if got := NormalizePredicate(tc.in); got != tc.want {
			t.Fatalf("NormalizePredicate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPredicateAllowedFor(t *testing.T) {
	if !PredProposes.AllowedFor(WindowConcept) || PredProposes.AllowedFor(WindowDiscourse) {
		t.Fatal("PROPOSES must be concept-only")
	}
	if !PredQuestions.AllowedFor(WindowDiscourse) || PredQuestions.AllowedFor(WindowConcept) {
		t.Fatal("QUESTIONS must be discourse-only")
	}
	if Predicate("LIKES").AllowedFor(WindowConcept) {
		t.Fatal("unknown predicate allowed")
	}
	if len(ConceptPredicates) != 11 || len(DiscoursePredicates) != 4 {
		t.Fatalf("unexpected allowlist sizes %d/%d", len(ConceptPredicates), len(DiscoursePredicates))
	}
}

func TestNodeTypeValid(t *testing.T) {
	for _, nt := range NodeTypes {
		if !nt.Valid() {
			t.Fatalf("%q should be valid", nt)
		}
	}
	if NodeType("schema:Event").Valid() {
		t.Fatal("schema:Event should be invalid")
	}
}

func TestWindowLookups(t *testing.T) {
	w := Window{
		Utterances:   []Utterance{{ID: "v:1", SpeakerID: "s_a"}},
		UtteranceIDs: []string{"v:1"},
		SpeakerIDs:   []string{"s_a"},
	}
	if !w.HasUtterance("v:1") || w.HasUtterance("v:2") {
		t.Fatal("HasUtterance mismatch")
	}
	if !w.HasSpeaker("s_a") || w.HasSpeaker("s_b") {
		t.Fatal("HasSpeaker mismatch")
	}
	if u, ok := w.Utterance("v:1"); !ok || u.SpeakerID != "s_a" {
		t.Fatal("Utterance lookup failed")
	}
}
