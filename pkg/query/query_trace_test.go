package query

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestQueryTrace_Snapshot(t *testing.T) {
	tr := NewQueryTrace()
	tr.Record(TraceEvent{Kind: TraceEventSeedNodeIDs, IDs: []string{"b", "a", ""}})
	tr.Record(TraceEvent{Kind: TraceEventExpandedNodeIDs, IDs: []string{"c"}, Hop: 1})
	tr.Record(TraceEvent{Kind: TraceEventExpandedNodeIDs, IDs: []string{"c", "d"}, Hop: 2})
	tr.Record(TraceEvent{Kind: TraceEventEdgeIDs, IDs: []string{"e2", "e1"}})
	tr.Record(TraceEvent{Kind: TraceEventCitedUtteranceIDs, IDs: []string{"v:1"}})
	recordSeedFailure(tr, MatchVector, errors.New("down"))

	snap := tr.Snapshot()
	want := QueryTraceSnapshot{
		SeedNodeIDs:       []string{"a", "b"},
		ExpandedNodeIDs:   []string{"c", "d"},
		EdgeIDs:           []string{"e1", "e2"},
		CitedUtteranceIDs: []string{"v:1"},
		FailedSeedSources: map[string]string{MatchVector: "down"},
		MaxHop:            2,
	}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("expected %+v, got %+v", want, snap)
	}
}

func TestQueryTrace_Nil(t *testing.T) {
	var tr *QueryTrace
	tr.Record(TraceEvent{Kind: TraceEventEdgeIDs, IDs: []string{"e1"}})
	if snap := tr.Snapshot(); snap.EdgeIDs != nil {
		t.Fatalf("expected an empty snapshot, got %+v", snap)
	}
	recordIDs(nil, TraceEventEdgeIDs, 0, "e1")
}

func TestMultiTracer(t *testing.T) {
	a, b := NewQueryTrace(), NewQueryTrace()
	MultiTracer{a, nil, b}.Record(TraceEvent{Kind: TraceEventEdgeIDs, IDs: []string{"e1"}})
	for _, tr := range []*QueryTrace{a, b} {
		if got := tr.Snapshot().EdgeIDs; !reflect.DeepEqual(got, []string{"e1"}) {
			t.Fatalf("expected e1, got %v", got)
		}
	}
}

func TestQueryTrace_Concurrent(t *testing.T) {
	tr := NewQueryTrace()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(TraceEvent{Kind: TraceEventEdgeIDs, IDs: []string{string(rune('a' + i))}})
		}()
	}
	wg.Wait()
	if got := len(tr.Snapshot().EdgeIDs); got != 20 {
		t.Fatalf("expected 20 edges, got %d", got)
	}
}
