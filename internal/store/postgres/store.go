// Package postgres is the one wired realization of the store interfaces in
// internal/store: the Concept/Proposition/EXPRESSES model mapped onto
// PostgreSQL tables, reached through pgx/v5 and pgxpool, with pgvector
// registered for the optional embeddings feature. Grounded on
// pkg/memory/postgres/{store,schema,knowledge_graph}.go in the teacher
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kqlgateway/kqlgateway/internal/store"
)

// Store is a store.Pool backed by a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Pool = (*Store)(nil)

// NewStore connects to dsn, registers pgvector's types on every new
// connection, pings the pool, and migrates the schema.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if embeddingDimensions <= 0 {
			return nil
		}
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Ping verifies connectivity; used by the health checker (SPEC_FULL.md A4).
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Acquire returns a request-scoped Session. The returned Session must be
// Released by the caller on every exit path.
func (s *Store) Acquire(ctx context.Context) (store.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close shuts down the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
