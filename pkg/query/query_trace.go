package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSeedNodeIDs       TraceEventKind = "seed_node_ids"
	TraceEventExpandedNodeIDs   TraceEventKind = "expanded_node_ids"
	TraceEventEdgeIDs           TraceEventKind = "edge_ids"
	TraceEventCitedUtteranceIDs TraceEventKind = "cited_utterance_ids"
	TraceEventSeedSourceFailed  TraceEventKind = "seed_source_failed"
)

// TraceEvent is an extensible event envelope for retrieval tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	IDs []string
	Hop int

	Source string
	Error  string
}

// Tracer is a sink for retrieval tracing events.
//
// Implementers can forward events to logs, telemetry, or evaluation
// pipelines that check which nodes and utterances an answer was built on.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func recordIDs(t Tracer, kind TraceEventKind, hop int, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: kind, IDs: ids, Hop: hop})
}

func recordSeedFailure(t Tracer, source string, err error) {
	if t == nil || err == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedSourceFailed, Source: source, Error: err.Error()})
}

// QueryTrace collects what a retrieval run looked at.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	seeds    map[string]struct{}
	expanded map[string]int
	edges    map[string]struct{}
	cited    map[string]struct{}
	failures map[string]string
}

type QueryTraceSnapshot struct {
	SeedNodeIDs       []string
	ExpandedNodeIDs   []string
	EdgeIDs           []string
	CitedUtteranceIDs []string
	// FailedSeedSources maps a seed source to the error it returned.
	FailedSeedSources map[string]string
	// MaxHop is the deepest hop any node was reached at.
	MaxHop int
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seeds:    make(map[string]struct{}),
		expanded: make(map[string]int),
		edges:    make(map[string]struct{}),
		cited:    make(map[string]struct{}),
		failures: make(map[string]string),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSeedNodeIDs:
		addIDs(t.seeds, event.IDs)
	case TraceEventExpandedNodeIDs:
		for _, id := range event.IDs {
			if id == "" {
				continue
			}
			if _, ok := t.expanded[id]; !ok {
				t.expanded[id] = event.Hop
			}
		}
	case TraceEventEdgeIDs:
		addIDs(t.edges, event.IDs)
	case TraceEventCitedUtteranceIDs:
		addIDs(t.cited, event.IDs)
	case TraceEventSeedSourceFailed:
		if event.Source != "" {
			t.failures[event.Source] = event.Error
		}
	}
}

func addIDs(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		SeedNodeIDs:       sortedSet(t.seeds),
		ExpandedNodeIDs:   make([]string, 0, len(t.expanded)),
		EdgeIDs:           sortedSet(t.edges),
		CitedUtteranceIDs: sortedSet(t.cited),
		FailedSeedSources: make(map[string]string, len(t.failures)),
	}
	for id, hop := range t.expanded {
		s.ExpandedNodeIDs = append(s.ExpandedNodeIDs, id)
		s.MaxHop = max(s.MaxHop, hop)
	}
	slices.Sort(s.ExpandedNodeIDs)
	for src, msg := range t.failures {
		s.FailedSeedSources[src] = msg
	}
	return s
}
