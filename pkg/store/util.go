package store

import (
	"context"
	"fmt"

	"github.com/hansard-kg/engine/pkg/ai"
	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in batches of batchSize, running up to
// parallel batches at once. Output order matches input order.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.EmbeddingProvider,
	inputs [][]byte,
	mode ai.EmbeddingMode,
	batchSize int,
	parallel int,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	if parallel > 0 {
		eg.SetLimit(parallel)
	}
	_ = ChunkRange(len(inputs), batchSize, func(start, end int) error {
		eg.Go(func() error {
			embs, err := client.GenerateEmbeddings(ectx, inputs[start:end], mode)
			if err != nil {
				return err
			}
			if len(embs) != end-start {
				return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(embs), end-start)
			}
			copy(out[start:end], embs)
			return nil
		})
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
