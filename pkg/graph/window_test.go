package graph

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/hansard-kg/engine/pkg/common"
)

func makeUtterances(n int, speakers ...string) []common.Utterance {
	if len(speakers) == 0 {
		speakers = []string{"s_a"}
	}
	out := make([]common.Utterance, n)
	for i := range out {
		sec := i * 10
		out[i] = common.Utterance{
			ID:        fmt.Sprintf("vid1:%d", sec),
			VideoID:   "vid1",
			SpeakerID: speakers[i%len(speakers)],
			Seconds:   sec,
			Timestamp: fmt.Sprintf("00:00:%02d", sec%60),
			Text:      fmt.Sprintf("utterance number %d of the sitting", i),
		}
	}
	return out
}

func TestConceptWindows(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		size       int
		stride     int
		wantStarts []int
		wantLast   int
	}{
		{"twenty two by ten and six", 22, 10, 6, []int{0, 6, 12, 18}, 4},
		{"exact fit", 10, 10, 10, []int{0}, 10},
		{"stride equals size", 25, 10, 10, []int{0, 10, 20}, 5},
		{"empty", 0, 10, 6, nil, 0},
		{"defaults", 12, 0, 0, []int{0, 6}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			utts := makeUtterances(tt.n)
			var starts []int
			var last common.Window
			for w := range ConceptWindows(utts, tt.size, tt.stride) {
				if w.Kind != common.WindowConcept {
					t.Fatalf("expected concept window, got %s", w.Kind)
				}
				if w.Index != len(starts) {
					t.Fatalf("expected index %d, got %d", len(starts), w.Index)
				}
				starts = append(starts, w.Utterances[0].Seconds/10)
				last = w
			}
			if !reflect.DeepEqual(starts, tt.wantStarts) {
				t.Fatalf("expected starts %v, got %v", tt.wantStarts, starts)
			}
			if len(last.Utterances) != tt.wantLast {
				t.Fatalf("expected last window of %d utterances, got %d", tt.wantLast, len(last.Utterances))
			}
		})
	}
}

func TestConceptWindows_StopsEarly(t *testing.T) {
	n := 0
	for range ConceptWindows(makeUtterances(30), 10, 6) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected iteration to stop after 2 windows, got %d", n)
	}
}

func TestNewWindow_Fields(t *testing.T) {
	utts := []common.Utterance{
		{ID: "vid1:40", VideoID: "vid1", SpeakerID: "s_b", Seconds: 40, Timestamp: "00:00:40", Text: "second"},
		{ID: "vid1:20", VideoID: "vid1", SpeakerID: "s_a", Seconds: 20, Timestamp: "00:00:20", Text: "first"},
		{ID: "vid1:60", VideoID: "vid1", SpeakerID: "s_b", Seconds: 60, Timestamp: "00:01:00", Text: "third"},
	}
	w := newWindow(3, common.WindowConcept, utts)

	if w.VideoID != "vid1" || w.Index != 3 {
		t.Fatalf("unexpected window header %+v", w)
	}
	if !reflect.DeepEqual(w.SpeakerIDs, []string{"s_b", "s_a"}) {
		t.Fatalf("expected speakers in first-seen order, got %v", w.SpeakerIDs)
	}
	if !reflect.DeepEqual(w.UtteranceIDs, []string{"vid1:40", "vid1:20", "vid1:60"}) {
		t.Fatalf("unexpected utterance ids %v", w.UtteranceIDs)
	}
	if w.EarliestSeconds != 20 || w.EarliestTimestamp != "00:00:20" {
		t.Fatalf("expected earliest 20/00:00:20, got %d/%s", w.EarliestSeconds, w.EarliestTimestamp)
	}
	lines := strings.Split(w.Text, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if want := "[utterance_id=vid1:40 t=00:00:40 speaker_id=s_b] second"; lines[0] != want {
		t.Fatalf("expected %q, got %q", want, lines[0])
	}
}

func TestDiscourseWindows(t *testing.T) {
	// a a a a b b c
	speakers := []string{"s_a", "s_a", "s_a", "s_a", "s_b", "s_b", "s_c"}
	utts := make([]common.Utterance, len(speakers))
	for i, sid := range speakers {
		utts[i] = common.Utterance{ID: fmt.Sprintf("v:%d", i), VideoID: "v", SpeakerID: sid, Seconds: i, Text: "text"}
	}

	var got [][]string
	for w := range DiscourseWindows(utts, 2) {
		if w.Kind != common.WindowDiscourse {
			t.Fatalf("expected discourse window, got %s", w.Kind)
		}
		got = append(got, w.UtteranceIDs)
	}
	want := [][]string{
		{"v:2", "v:3", "v:4", "v:5"},
		{"v:4", "v:5", "v:6"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDiscourseWindows_SingleSpeaker(t *testing.T) {
	n := 0
	for range DiscourseWindows(makeUtterances(8), 3) {
		n++
	}
	if n != 0 {
		t.Fatalf("expected no discourse windows for a monologue, got %d", n)
	}
}

func TestFilterShortUtterances(t *testing.T) {
	utts := []common.Utterance{
		{ID: "1", Text: "Hear, hear."},
		{ID: "2", Text: "   yes   "},
		{ID: "3", Text: "The Water Bill is now read a second time."},
		{ID: "4", Text: "exactly fifteen"},
	}
	got := FilterShortUtterances(utts, DefaultMinUtteranceLength)
	var ids []string
	for _, u := range got {
		ids = append(ids, u.ID)
	}
	if !slices.Equal(ids, []string{"3", "4"}) {
		t.Fatalf("expected [3 4], got %v", ids)
	}
}
