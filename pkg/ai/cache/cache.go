// Package cache memoizes embeddings so repeated retrieval queries skip the
// embedding round trip.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hansard-kg/engine/pkg/ai"
	"github.com/hansard-kg/engine/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Store is the byte cache behind CachedEmbedder.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore implements Store on go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and pings it once.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CachedEmbedder decorates an ai.EmbeddingProvider. Only query-mode vectors
// are cached; document embeddings are written once per node and never reused.
// Cache failures are logged and fall through to the wrapped provider.
type CachedEmbedder struct {
	ai.EmbeddingProvider

	store     Store
	namespace string
	ttl       time.Duration
}

// NewCachedEmbedder wraps inner. namespace should identify the embedding
// model so switching models never serves stale vectors.
func NewCachedEmbedder(inner ai.EmbeddingProvider, store Store, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		EmbeddingProvider: inner,
		store:             store,
		namespace:         namespace,
		ttl:               ttl,
	}
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, input []byte, mode ai.EmbeddingMode) ([]float32, error) {
	if mode != ai.EmbeddingModeQuery {
		return c.EmbeddingProvider.GenerateEmbedding(ctx, input, mode)
	}

	key := c.key(mode, input)
	if b, ok, err := c.store.Get(ctx, key); err != nil {
		logger.Warn("[Cache] Embedding lookup failed", "err", err)
	} else if ok {
		if vec, ok := decodeVector(b, c.EmbeddingDim()); ok {
			return vec, nil
		}
	}

	vec, err := c.EmbeddingProvider.GenerateEmbedding(ctx, input, mode)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		logger.Warn("[Cache] Embedding store failed", "err", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) key(mode ai.EmbeddingMode, input []byte) string {
	h := sha256.New()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write(input)
	return "kg:emb:" + c.namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte, dim int) ([]float32, bool) {
	if len(b)%4 != 0 || (dim > 0 && len(b)/4 != dim) {
		return nil, false
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return vec, true
}
