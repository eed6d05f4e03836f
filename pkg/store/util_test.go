package store

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/hansard-kg/engine/pkg/ai"
)

func TestChunkRange(t *testing.T) {
	var got [][2]int
	_ = ChunkRange(7, 3, func(start, end int) error {
		got = append(got, [2]int{start, end})
		return nil
	})
	want := [][2]int{{0, 3}, {3, 6}, {6, 7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ChunkRange() = %v, want %v", got, want)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("DedupeStrings() = %v", got)
	}
	if DedupeStrings(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

type lenEmbedder struct {
	mu      sync.Mutex
	batches int
}

func (e *lenEmbedder) GenerateEmbedding(ctx context.Context, in []byte, mode ai.EmbeddingMode) ([]float32, error) {
	return []float32{float32(len(in))}, nil
}

func (e *lenEmbedder) GenerateEmbeddings(ctx context.Context, in [][]byte, mode ai.EmbeddingMode) ([][]float32, error) {
	e.mu.Lock()
	e.batches++
	e.mu.Unlock()
	out := make([][]float32, len(in))
	for i := range in {
		out[i] = []float32{float32(len(in[i]))}
	}
	return out, nil
}

func (e *lenEmbedder) EmbeddingDim() int { return 1 }

func TestGenerateEmbeddings_PreservesOrder(t *testing.T) {
	e := &lenEmbedder{}
	inputs := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd"), []byte("eeeee")}
	got, err := GenerateEmbeddings(context.Background(), e, inputs, ai.EmbeddingModeDocument, 2, 2)
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	for i, v := range got {
		if v[0] != float32(i+1) {
			t.Fatalf("embedding %d out of order: %v", i, got)
		}
	}
	if e.batches != 3 {
		t.Fatalf("expected 3 batches, got %d", e.batches)
	}
}
