// Package store persists users and chat history in PostgreSQL.
//
// The store is an optional collaborator: tide runs without it, degrading to
// memory-only session auth. Every constructor and method takes a
// context.Context and the whole package is safe for concurrent use via the
// underlying pgx pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidechat/tide/internal/log"
)

// Sentinel errors. Callers check these with errors.Is().
var (
	// ErrUserNotFound indicates no user row exists for the username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
)

// connectTimeout bounds the initial connection attempt so a misconfigured
// DATABASE_URL fails fast instead of hanging startup.
const connectTimeout = 10 * time.Second

// Store wraps a pgx connection pool with user and chat operations.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// Open connects to PostgreSQL at connURL and verifies the connection with a
// ping. connURL must be a postgres:// or postgresql:// URL.
func Open(ctx context.Context, connURL string, logger log.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// NewWithPool wraps an existing pool. Used by tests that manage their own
// container lifecycle.
func NewWithPool(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Ping verifies database connectivity. Used by the health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
