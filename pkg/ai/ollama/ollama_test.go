package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hansard-kg/engine/pkg/ai"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *GraphOllamaClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		EmbeddingModel:  "nomic-embed-text",
		ExtractionModel: "qwen3",
		BaseURL:         srv.URL,
		EmbeddingDim:    4,
		Prefixes:        ai.EmbeddingPrefixes{Query: "q: ", Document: "d: "},
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	return c
}

func TestGenerateCompletion_SystemPromptAndSchema(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"model":"qwen3","message":{"role":"assistant","content":"{\"edges\":[]}"},"done":true,"prompt_eval_count":7,"eval_count":3}` + "\n"))
	})

	out, err := c.GenerateCompletion(context.Background(), "extract",
		ai.WithSystemPrompts(ai.ExtractSystemPrompt),
		ai.WithResponseSchema("kg", "delta", map[string]any{"type": "object"}),
	)
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if out != `{"edges":[]}` {
		t.Fatalf("unexpected content %q", out)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system + user messages, got %v", got["messages"])
	}
	if got["format"] == nil {
		t.Fatal("expected schema in format field")
	}
	if m := c.GetMetrics(); m.TotalTokens != 10 || m.Requests != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestGenerateCompletion_EmptyIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"qwen3","message":{"role":"assistant","content":""},"done":true}` + "\n"))
	})
	_, err := c.GenerateCompletion(context.Background(), "extract")
	if !errors.Is(err, ai.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateCompletion_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.GenerateCompletion(context.Background(), "extract")
	var se *ai.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped 503, got %v", err)
	}
	if !ai.IsRetryable(err) {
		t.Fatal("503 should be retryable")
	}
}

func TestGenerateEmbeddings_PrefixAndDimension(t *testing.T) {
	var got struct {
		Input []string `json:"input"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[1,2,3,4,5,6]],"prompt_eval_count":2}`))
	})

	vecs, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("  "), []byte("Water Bill")}, ai.EmbeddingModeDocument)
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(got.Input) != 1 || got.Input[0] != "d: Water Bill" {
		t.Fatalf("unexpected request input %v", got.Input)
	}
	if len(vecs) != 2 || len(vecs[0]) != 4 || len(vecs[1]) != 4 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
	if vecs[0][0] != 0 || vecs[1][3] != 4 {
		t.Fatalf("blank input should be zero vector and others truncated, got %v", vecs)
	}
}
