package graph

import (
	"time"

	"github.com/hansard-kg/engine/internal/timing"
	"github.com/hansard-kg/engine/pkg/common"
)

// RunStats summarizes an extraction run. Link rate is the main signal of
// extraction drift: a falling rate means the model stopped reusing known
// nodes.
type RunStats struct {
	RunID   string `json:"run_id"`
	VideoID string `json:"youtube_video_id,omitempty"`

	WindowsProcessed      int `json:"windows_processed"`
	WindowsSucceeded      int `json:"windows_succeeded"`
	WindowsFailed         int `json:"windows_failed"`
	WindowsParseFailed    int `json:"windows_parse_failed"`
	WindowsProviderFailed int `json:"windows_provider_failed"`
	WindowsRepaired       int `json:"windows_repaired"`

	NodesNew       int `json:"nodes_new"`
	NodesMerged    int `json:"nodes_merged"`
	EdgesNew       int `json:"edges_new"`
	EdgesDuplicate int `json:"edges_duplicate"`

	EdgesSkippedInvalidSpeakerRef int `json:"edges_skipped_invalid_speaker_ref"`
	EdgesSkippedMissingNodes      int `json:"edges_skipped_missing_nodes"`

	LinksToKnown int `json:"links_to_known"`
	EndpointRefs int `json:"endpoint_refs"`

	StoppedByBudget bool              `json:"stopped_by_budget"`
	StopReason      timing.StopReason `json:"stop_reason,omitempty"`
	Elapsed         time.Duration     `json:"elapsed"`
}

// LinkRate is the share of edge endpoints that resolved to nodes known
// before the window was extracted.
func (s RunStats) LinkRate() float64 {
	if s.EndpointRefs == 0 {
		return 0
	}
	return float64(s.LinksToKnown) / float64(s.EndpointRefs)
}

func (s *RunStats) recordResult(res Result) {
	s.WindowsProcessed++
	if res.Branch == PassRepair {
		s.WindowsRepaired++
	}
	switch res.Kind {
	case ResultValidated:
		s.WindowsSucceeded++
	case ResultParseFailure:
		s.WindowsFailed++
		s.WindowsParseFailed++
	default:
		s.WindowsFailed++
	}
}

func (s *RunStats) recordProviderFailure() {
	s.WindowsProcessed++
	s.WindowsFailed++
	s.WindowsProviderFailed++
}

func (s *RunStats) recordDelta(ds DeltaStats, ar common.ApplyResult) {
	s.LinksToKnown += ds.LinksToKnown
	s.EndpointRefs += ds.EndpointRefs
	s.EdgesSkippedInvalidSpeakerRef += ds.EdgesSkippedInvalidSpeakerRef
	s.NodesNew += ar.NodesInserted
	s.NodesMerged += ar.NodesMerged
	s.EdgesNew += ar.EdgesInserted
	s.EdgesDuplicate += ar.EdgesDuplicate
	s.EdgesSkippedMissingNodes += ar.EdgesSkippedMissingNodes
}

// Add accumulates the counters of o into s. Identity fields are kept.
func (s *RunStats) Add(o RunStats) {
	s.WindowsProcessed += o.WindowsProcessed
	s.WindowsSucceeded += o.WindowsSucceeded
	s.WindowsFailed += o.WindowsFailed
	s.WindowsParseFailed += o.WindowsParseFailed
	s.WindowsProviderFailed += o.WindowsProviderFailed
	s.WindowsRepaired += o.WindowsRepaired
	s.NodesNew += o.NodesNew
	s.NodesMerged += o.NodesMerged
	s.EdgesNew += o.EdgesNew
	s.EdgesDuplicate += o.EdgesDuplicate
	s.EdgesSkippedInvalidSpeakerRef += o.EdgesSkippedInvalidSpeakerRef
	s.EdgesSkippedMissingNodes += o.EdgesSkippedMissingNodes
	s.LinksToKnown += o.LinksToKnown
	s.EndpointRefs += o.EndpointRefs
	s.StoppedByBudget = s.StoppedByBudget || o.StoppedByBudget
	if s.StopReason == timing.StopNone {
		s.StopReason = o.StopReason
	}
	s.Elapsed = max(s.Elapsed, o.Elapsed)
}
