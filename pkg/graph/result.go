package graph

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DraftNode is a node the model declared for this window.
type DraftNode struct {
	TempID  string   `json:"temp_id" jsonschema_description:"Temporary id such as n1, unique within the answer"`
	Type    string   `json:"type" jsonschema_description:"One of the allowed node types"`
	Label   string   `json:"label" jsonschema_description:"Canonical name of the entity"`
	Aliases []string `json:"aliases" jsonschema_description:"Other surface forms used in the transcript"`
}

// DraftEdge is a relationship as the model wrote it. Refs are known node
// ids, temp ids or speaker refs.
type DraftEdge struct {
	SourceRef         string      `json:"source_ref" jsonschema_description:"Known node id, temp_id or speaker_<speaker_id>"`
	Predicate         string      `json:"predicate" jsonschema_description:"One of the allowed predicates"`
	TargetRef         string      `json:"target_ref" jsonschema_description:"Known node id, temp_id or speaker_<speaker_id>"`
	Evidence          string      `json:"evidence" jsonschema_description:"Verbatim quote from the transcript window"`
	UtteranceIDs      FlexStrings `json:"utterance_ids" jsonschema_description:"Full utterance ids the evidence comes from"`
	EarliestTimestamp string      `json:"earliest_timestamp,omitempty" jsonschema_description:"Timestamp of the earliest cited utterance"`
	Confidence        *float64    `json:"confidence,omitempty" jsonschema_description:"Confidence between 0 and 1"`
}

// Draft is one full extraction answer.
//
// Decoding is lenient: a field that is not a list, or list items that are
// not objects, are recorded and reported by Validate instead of failing the
// whole parse.
type Draft struct {
	NodesNew []DraftNode `json:"nodes_new"`
	Edges    []DraftEdge `json:"edges"`

	shape shapeIssues
}

type shapeIssues struct {
	nodesNotList bool
	edgesNotList bool
	badNodes     []int
	badEdges     []int
}

func (d *Draft) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = Draft{}
	d.NodesNew, d.shape.badNodes, d.shape.nodesNotList = decodeList[DraftNode](raw["nodes_new"])
	d.Edges, d.shape.badEdges, d.shape.edgesNotList = decodeList[DraftEdge](raw["edges"])
	return nil
}

// Clone returns a deep copy safe to mutate.
func (d Draft) Clone() Draft {
	out := Draft{
		NodesNew: make([]DraftNode, len(d.NodesNew)),
		Edges:    make([]DraftEdge, len(d.Edges)),
		shape:    d.shape,
	}
	for i, n := range d.NodesNew {
		n.Aliases = append([]string(nil), n.Aliases...)
		out.NodesNew[i] = n
	}
	for i, e := range d.Edges {
		e.UtteranceIDs = append(FlexStrings(nil), e.UtteranceIDs...)
		out.Edges[i] = e
	}
	return out
}

// Additions is the answer of the additions-only pass. It can only add to
// the draft; removals belong to the repair pass.
type Additions struct {
	NodesNewAdd []DraftNode `json:"nodes_new_add"`
	EdgesAdd    []DraftEdge `json:"edges_add"`
}

func (a *Additions) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Additions{}
	a.NodesNewAdd, _, _ = decodeList[DraftNode](raw["nodes_new_add"])
	a.EdgesAdd, _, _ = decodeList[DraftEdge](raw["edges_add"])
	return nil
}

// decodeList decodes a JSON array item by item. bad holds the indexes of
// items that did not decode; notList is set when raw is missing or not an
// array.
func decodeList[T any](raw json.RawMessage) (items []T, bad []int, notList bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil, true
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, nil, true
	}
	items = make([]T, 0, len(elems))
	for i, el := range elems {
		el = bytes.TrimSpace(el)
		var v T
		if len(el) == 0 || el[0] != '{' || json.Unmarshal(el, &v) != nil {
			bad = append(bad, i)
			continue
		}
		items = append(items, v)
	}
	return items, bad, false
}

// FlexStrings decodes a list whose items may be strings or numbers, which
// models emit for bare-second utterance ids. A single scalar is accepted as a
// one-item list.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	if len(b) > 0 && b[0] != '[' {
		b = append(append([]byte("["), b...), ']')
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(FlexStrings, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, strings.TrimSpace(v))
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case nil:
		default:
			bs, _ := json.Marshal(v)
			out = append(out, string(bs))
		}
	}
	*f = out
	return nil
}

// ResultKind tags the outcome of extracting one window.
type ResultKind string

const (
	ResultValidated       ResultKind = "validated"
	ResultSchemaViolation ResultKind = "schema_violation"
	ResultParseFailure    ResultKind = "parse_failure"
)

// PassTiming records one completion call.
type PassTiming struct {
	Pass     string        `json:"pass"`
	Duration time.Duration `json:"duration"`
}

// Result is the tagged outcome of the extraction protocol for one window.
// Delta is only meaningful when Kind is ResultValidated.
type Result struct {
	Kind    ResultKind   `json:"kind"`
	Window  int          `json:"window"`
	Delta   Draft        `json:"delta"`
	Issues  []Issue      `json:"issues,omitempty"`
	Prompts []string     `json:"prompts,omitempty"`
	Raw     []string     `json:"raw_responses,omitempty"`
	Timings []PassTiming `json:"timings,omitempty"`
	// Branch is "additions" or "repair" once a second pass ran.
	Branch string `json:"branch,omitempty"`
}

func (r Result) OK() bool {
	return r.Kind == ResultValidated
}
