package common

import "time"

// Utterance is one diarized sentence of a sitting transcript. Utterances are
// read from the sentences table in seconds order and are the provenance for
// every edge in the graph.
//
// IDs have the form "{video_id}:{seconds}".
type Utterance struct {
	ID         string `json:"id"`
	VideoID    string `json:"youtube_video_id"`
	SpeakerID  string `json:"speaker_id"`
	Seconds    int    `json:"seconds_since_start"`
	Timestamp  string `json:"timestamp_str"`
	Text       string `json:"text"`
	VideoTitle string `json:"video_title,omitempty"`
	VideoDate  string `json:"video_date,omitempty"`
}

// WindowKind tags what an extraction window is for.
type WindowKind string

const (
	// WindowConcept windows extract entities and their relationships.
	WindowConcept WindowKind = "concept"
	// WindowDiscourse windows straddle a speaker change and only relate
	// speakers to each other.
	WindowDiscourse WindowKind = "discourse"
)

// Window is a contiguous slice of utterances handed to the extractor.
//
// Text holds one line per utterance in the form
//
//	[utterance_id={id} t={timestamp} speaker_id={speaker}] {text}
//
// SpeakerIDs are unique in first-seen order. EarliestSeconds and
// EarliestTimestamp come from the earliest utterance of the window.
type Window struct {
	Index             int         `json:"index"`
	Kind              WindowKind  `json:"kind"`
	VideoID           string      `json:"youtube_video_id"`
	Utterances        []Utterance `json:"utterances"`
	Text              string      `json:"text"`
	UtteranceIDs      []string    `json:"utterance_ids"`
	SpeakerIDs        []string    `json:"speaker_ids"`
	EarliestSeconds   int         `json:"earliest_seconds"`
	EarliestTimestamp string      `json:"earliest_timestamp"`
}

// HasUtterance reports whether id belongs to the window.
func (w Window) HasUtterance(id string) bool {
	for _, u := range w.UtteranceIDs {
		if u == id {
			return true
		}
	}
	return false
}

// HasSpeaker reports whether sid spoke in the window.
func (w Window) HasSpeaker(sid string) bool {
	for _, s := range w.SpeakerIDs {
		if s == sid {
			return true
		}
	}
	return false
}

// Utterance returns the utterance with the given id.
func (w Window) Utterance(id string) (Utterance, bool) {
	for _, u := range w.Utterances {
		if u.ID == id {
			return u, true
		}
	}
	return Utterance{}, false
}

// Speaker is a row of the speakers table.
type Speaker struct {
	ID             string `json:"id"`
	NormalizedName string `json:"normalized_name"`
	FullName       string `json:"full_name"`
	Title          string `json:"title"`
}

// Node is a canonical graph entity. Its ID is derived from type and
// normalized label (or "speaker_{id}" for speakers), so the same entity
// mentioned in different windows always maps to the same row.
//
// Nodes are only ever augmented: aliases are unioned, and the embedding is
// written once when missing.
type Node struct {
	ID        string    `json:"id"`
	Type      NodeType  `json:"type"`
	Label     string    `json:"label"`
	Aliases   []string  `json:"aliases"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// AliasSource records who wrote an alias.
type AliasSource string

const (
	AliasSeed      AliasSource = "seed"
	AliasExtracted AliasSource = "extracted"
)

// Alias maps a normalized surface form to a node. The normalized form is
// globally unique and the first writer wins.
type Alias struct {
	Norm       string      `json:"alias_norm"`
	Raw        string      `json:"alias_raw"`
	NodeID     string      `json:"node_id"`
	Type       NodeType    `json:"type"`
	Source     AliasSource `json:"source"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// Edge is a directed, evidence-bearing statement between two nodes.
// Edges are append-only. The ID hashes the triple together with the
// sitting, timestamp and evidence so the same fact is never stored twice,
// while the same triple said at another time is kept as its own row.
type Edge struct {
	ID                string    `json:"id"`
	SourceID          string    `json:"source_id"`
	Predicate         Predicate `json:"predicate"`
	PredicateRaw      string    `json:"predicate_raw"`
	TargetID          string    `json:"target_id"`
	VideoID           string    `json:"youtube_video_id"`
	EarliestTimestamp string    `json:"earliest_timestamp_str"`
	EarliestSeconds   int       `json:"earliest_seconds"`
	UtteranceIDs      []string  `json:"utterance_ids"`
	Evidence          string    `json:"evidence"`
	SpeakerIDs        []string  `json:"speaker_ids"`
	Confidence        float64   `json:"confidence"`
	ExtractorModel    string    `json:"extractor_model"`
	RunID             string    `json:"kg_run_id"`
	CreatedAt         time.Time `json:"created_at,omitzero"`
}

// GraphDelta is the canonical, store-ready result of one window.
type GraphDelta struct {
	VideoID string  `json:"youtube_video_id"`
	Nodes   []Node  `json:"nodes"`
	Aliases []Alias `json:"aliases"`
	Edges   []Edge  `json:"edges"`
}

// ApplyResult counts what a store actually changed while applying a delta.
type ApplyResult struct {
	NodesInserted            int `json:"nodes_inserted"`
	NodesMerged              int `json:"nodes_merged"`
	AliasesInserted          int `json:"aliases_inserted"`
	EdgesInserted            int `json:"edges_inserted"`
	EdgesDuplicate           int `json:"edges_duplicate"`
	EdgesSkippedMissingNodes int `json:"edges_skipped_missing_nodes"`
}

// Add accumulates o into r.
func (r *ApplyResult) Add(o ApplyResult) {
	r.NodesInserted += o.NodesInserted
	r.NodesMerged += o.NodesMerged
	r.AliasesInserted += o.AliasesInserted
	r.EdgesInserted += o.EdgesInserted
	r.EdgesDuplicate += o.EdgesDuplicate
	r.EdgesSkippedMissingNodes += o.EdgesSkippedMissingNodes
}

// ScoredNode is a node returned from a similarity or rank search.
// Distance is cosine distance for vector hits; Score is in [0,1] with
// higher meaning more relevant.
type ScoredNode struct {
	Node     Node    `json:"node"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// ClearResult reports how many rows a bulk clear removed.
type ClearResult struct {
	Edges        int64 `json:"edges"`
	Aliases      int64 `json:"aliases"`
	Nodes        int64 `json:"nodes"`
	SittingSeeds int64 `json:"sitting_seeds"`
}
