package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given
// connection pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the stored block for name.
func (s *CheckpointStore) Get(ctx context.Context, name string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM checkpoints WHERE name = $1`, name).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: get checkpoint %s: %w", name, err)
	}
	return uint64(block), nil
}

// Set stores block for name; the stored value never decreases.
func (s *CheckpointStore) Set(ctx context.Context, name string, block uint64) error {
	const query = `
		INSERT INTO checkpoints (name, block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			block      = GREATEST(checkpoints.block, EXCLUDED.block),
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, int64(block)); err != nil {
		return fmt.Errorf("postgres: set checkpoint %s: %w", name, err)
	}
	return nil
}
