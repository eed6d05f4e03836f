package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
	mode ai.EmbeddingMode,
) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input}, mode)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds inputs in one /api/embed call. Blank inputs map
// to zero vectors.
func (c *GraphOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs [][]byte,
	mode ai.EmbeddingMode,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(string(in)) == "" {
			out[i] = make([]float32, c.dim)
			continue
		}
		idxMap = append(idxMap, i)
		texts = append(texts, c.prefixes.Apply(mode, string(in)))
	}
	if len(texts) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
		WallClockMs: time.Since(start).Milliseconds(),
	})

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	for i, vec := range res.Embeddings {
		out[idxMap[i]] = ai.FitDimension(vec, c.dim)
	}
	return out, nil
}
