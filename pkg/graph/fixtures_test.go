package graph

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/common"
)

// waterBillUtterances is a short exchange about the Water Bill.
func waterBillUtterances() []common.Utterance {
	return []common.Utterance{
		{ID: "vid1:100", VideoID: "vid1", SpeakerID: "s_minister", Seconds: 100, Timestamp: "00:01:40",
			Text: "Madam Speaker, this Government will bring the Water Bill to modernize how the Barbados Water Authority is run."},
		{ID: "vid1:115", VideoID: "vid1", SpeakerID: "s_minister", Seconds: 115, Timestamp: "00:01:55",
			Text: "The Bill aims to reduce non-revenue water across the island."},
		{ID: "vid1:130", VideoID: "vid1", SpeakerID: "s_opposition", Seconds: 130, Timestamp: "00:02:10",
			Text: "Will the Minister say when the Bill will be laid in this House?"},
	}
}

func waterBillWindow() common.Window {
	return newWindow(0, common.WindowConcept, waterBillUtterances())
}

func waterBillSpeakers() []common.Speaker {
	return []common.Speaker{
		{ID: "s_minister", FullName: "Ryan Straughn", NormalizedName: "straughn", Title: "Minister"},
		{ID: "s_opposition", FullName: "Ralph Thorne", NormalizedName: "thorne"},
	}
}

const waterBillEvidence = "this Government will bring the Water Bill"

func validWaterBillDraft() Draft {
	conf := 0.9
	return Draft{
		NodesNew: []DraftNode{
			{TempID: "n1", Type: string(common.TypeLegislation), Label: "Water Bill", Aliases: []string{"the Bill"}},
		},
		Edges: []DraftEdge{
			{
				SourceRef:    "speaker_s_minister",
				Predicate:    "PROPOSES",
				TargetRef:    "n1",
				Evidence:     waterBillEvidence,
				UtteranceIDs: FlexStrings{"vid1:100"},
				Confidence:   &conf,
			},
		},
	}
}

// scriptedCompletion answers calls from a fixed script, in order.
type scriptedCompletion struct {
	mu      sync.Mutex
	answers []scriptedAnswer
	calls   []scriptedCall
}

type scriptedAnswer struct {
	raw string
	err error
}

type scriptedCall struct {
	prompt string
	opts   ai.GenerateOptions
}

func newScriptedCompletion(answers ...scriptedAnswer) *scriptedCompletion {
	return &scriptedCompletion{answers: answers}
}

func (s *scriptedCompletion) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scriptedCall{prompt: prompt, opts: ai.ApplyOptions(ai.GenerateOptions{}, opts...)})
	if len(s.answers) == 0 {
		return "", errors.New("script exhausted")
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a.raw, a.err
}

func (s *scriptedCompletion) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	raw, err := s.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *scriptedCompletion) ModelName() string { return "test-model" }

func (s *scriptedCompletion) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// hashEmbedder derives a stable vector from the input bytes.
type hashEmbedder struct {
	mu    sync.Mutex
	modes []ai.EmbeddingMode
	count int
	err   error
}

const hashEmbedderDim = 8

func (h *hashEmbedder) GenerateEmbedding(ctx context.Context, input []byte, mode ai.EmbeddingMode) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	h.modes = append(h.modes, mode)
	h.count++
	sum := md5.Sum(input)
	v := make([]float32, hashEmbedderDim)
	for i := range v {
		v[i] = float32(sum[i]) + 1
	}
	return v, nil
}

func (h *hashEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte, mode ai.EmbeddingMode) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, err := h.GenerateEmbedding(ctx, in, mode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) EmbeddingDim() int { return hashEmbedderDim }

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

const emptyAdditions = `{"nodes_new_add": [], "edges_add": []}`
