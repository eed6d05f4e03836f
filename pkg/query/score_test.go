package query

import (
	"reflect"
	"testing"
)

func TestScoreEdges(t *testing.T) {
	edges := []Edge{
		{ID: "b", Hop: 1, VectorScore: 0.5, Confidence: 1},
		{ID: "a", Hop: 2, VectorScore: 1, Confidence: 0.4},
		{ID: "c", Hop: 1, VectorScore: 0.5, Confidence: 1},
	}
	got := scoreEdges(edges, 0.5)
	if ids := edgeIDs(got); !reflect.DeepEqual(ids, []string{"b", "c", "a"}) {
		t.Fatalf("unexpected order %v", ids)
	}
	if got[0].Score != 0.75 || got[2].GraphScore != 0.2 || got[2].Score != 0.6 {
		t.Fatalf("unexpected scores %+v", got)
	}
	if edges[0].Score != 0 {
		t.Fatalf("scoreEdges must not mutate its input")
	}
	if out := scoreEdges(nil, 0.5); out == nil || len(out) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %v", out)
	}
}

func TestSelectCitations(t *testing.T) {
	edges := []Edge{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}
	ordered := map[string][]string{
		"e1": {"u1", "u2", "u3"},
		"e2": {"u1", "u4"},
		"e3": {"u5"},
	}
	tests := []struct {
		limit int
		want  []pick
	}{
		{limit: 3, want: []pick{{"u1", "e1"}, {"u4", "e2"}, {"u5", "e3"}}},
		{limit: 10, want: []pick{{"u1", "e1"}, {"u4", "e2"}, {"u5", "e3"}, {"u2", "e1"}, {"u3", "e1"}}},
		{limit: 0, want: nil},
	}
	for _, tt := range tests {
		got := selectCitations(edges, ordered, tt.limit)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("limit %d: expected %v, got %v", tt.limit, tt.want, got)
		}
	}
}

func TestVideoURL(t *testing.T) {
	if got := VideoURL("Syxyah7QIaM", 1851); got != "https://www.youtube.com/watch?v=Syxyah7QIaM&t=1851s" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := VideoURL("v", -4); got != "https://www.youtube.com/watch?v=v&t=0s" {
		t.Fatalf("unexpected url %q", got)
	}
}
