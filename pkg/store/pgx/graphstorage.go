package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/hansard-kg/engine/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector
// for node similarity search and tsvector for full text node search.
type GraphDBStorage struct {
	conn pgxIConn
	dim  int
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithEmbeddingDim sets the vector width written to kg_nodes.embedding.
// Embeddings of any other width are rejected before they reach the database.
func WithEmbeddingDim(dim int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.dim = dim
	}
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an
// existing database connection or pool.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	if conn == nil {
		return nil, errors.New("pgx: nil connection")
	}
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// NewPool opens a pgx pool with the pgvector types registered on every
// connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *GraphDBStorage) checkDim(vec []float32) error {
	if s.dim > 0 && len(vec) > 0 && len(vec) != s.dim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(vec), s.dim)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
