package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"
)

type mapStore struct {
	data   map[string][]byte
	getErr error
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) GenerateEmbedding(_ context.Context, input []byte, _ ai.EmbeddingMode) ([]float32, error) {
	c.calls++
	return []float32{float32(len(input)), 0.5}, nil
}

func (c *countingEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte, mode ai.EmbeddingMode) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i], _ = c.GenerateEmbedding(ctx, in, mode)
	}
	return out, nil
}

func (c *countingEmbedder) EmbeddingDim() int { return 2 }

func TestCachedEmbedder_QueryHits(t *testing.T) {
	inner := &countingEmbedder{}
	store := &mapStore{data: map[string][]byte{}}
	c := NewCachedEmbedder(inner, store, "nomic", time.Hour)
	ctx := context.Background()

	first, err := c.GenerateEmbedding(ctx, []byte("water bill"), ai.EmbeddingModeQuery)
	if err != nil {
		t.Fatalf("GenerateEmbedding() error = %v", err)
	}
	second, _ := c.GenerateEmbedding(ctx, []byte("water bill"), ai.EmbeddingModeQuery)
	if inner.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", inner.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached vector differs: %v vs %v", first, second)
	}
}

func TestCachedEmbedder_DocumentBypasses(t *testing.T) {
	inner := &countingEmbedder{}
	store := &mapStore{data: map[string][]byte{}}
	c := NewCachedEmbedder(inner, store, "nomic", time.Hour)
	for range 2 {
		_, _ = c.GenerateEmbedding(context.Background(), []byte("water bill"), ai.EmbeddingModeDocument)
	}
	if inner.calls != 2 || len(store.data) != 0 {
		t.Fatalf("document mode should not be cached: calls=%d stored=%d", inner.calls, len(store.data))
	}
}

func TestCachedEmbedder_StoreErrorFallsThrough(t *testing.T) {
	inner := &countingEmbedder{}
	store := &mapStore{data: map[string][]byte{}, getErr: errors.New("redis down")}
	c := NewCachedEmbedder(inner, store, "nomic", time.Hour)
	vec, err := c.GenerateEmbedding(context.Background(), []byte("q"), ai.EmbeddingModeQuery)
	if err != nil || len(vec) != 2 {
		t.Fatalf("expected provider result, got %v %v", vec, err)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{1.5, -2, 0}
	out, ok := decodeVector(encodeVector(in), 3)
	if !ok || !reflect.DeepEqual(in, out) {
		t.Fatalf("codec mismatch: %v", out)
	}
	if _, ok := decodeVector([]byte{1, 2, 3}, 0); ok {
		t.Fatal("expected failure on odd length")
	}
}
