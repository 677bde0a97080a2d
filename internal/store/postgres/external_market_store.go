package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// ExternalMarketStore implements domain.ExternalMarketStore using PostgreSQL.
type ExternalMarketStore struct {
	pool *pgxpool.Pool
}

// NewExternalMarketStore creates a new ExternalMarketStore backed by the given
// connection pool.
func NewExternalMarketStore(pool *pgxpool.Pool) *ExternalMarketStore {
	return &ExternalMarketStore{pool: pool}
}

const externalMarketColumns = `
	id, marketplace, external_id, question, category, price_bps,
	liquidity, resolution_time, last_update, parent_market_id`

// Upsert inserts or refreshes a listing keyed by (marketplace, external_id).
func (s *ExternalMarketStore) Upsert(ctx context.Context, m domain.ExternalMarket) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO external_markets (
			id, marketplace, external_id, question, category, price_bps,
			liquidity, resolution_time, last_update, parent_market_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (marketplace, external_id) DO UPDATE SET
			question         = EXCLUDED.question,
			category         = EXCLUDED.category,
			price_bps        = EXCLUDED.price_bps,
			liquidity        = EXCLUDED.liquidity,
			resolution_time  = EXCLUDED.resolution_time,
			last_update      = EXCLUDED.last_update,
			parent_market_id = EXCLUDED.parent_market_id`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Marketplace, m.ExternalID, m.Question, m.Category, m.PriceBps,
		m.Liquidity, m.ResolutionTime, m.LastUpdate, m.ParentMarketID,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert external market %s/%s: %w", m.Marketplace, m.ExternalID, err)
	}
	return nil
}

// Get returns a listing by its natural key.
func (s *ExternalMarketStore) Get(ctx context.Context, marketplace, externalID string) (domain.ExternalMarket, error) {
	query := `SELECT` + externalMarketColumns + `
		FROM external_markets
		WHERE marketplace = $1 AND external_id = $2`
	m, err := scanExternalMarket(s.pool.QueryRow(ctx, query, marketplace, externalID))
	if err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("postgres: get external market %s/%s: %w", marketplace, externalID, err)
	}
	return m, nil
}

// ListByMarketplace returns listings of one marketplace, most recently
// refreshed first.
func (s *ExternalMarketStore) ListByMarketplace(ctx context.Context, marketplace string, opts domain.ListOpts) ([]domain.ExternalMarket, error) {
	query := `SELECT` + externalMarketColumns + `
		FROM external_markets
		WHERE marketplace = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, marketplace, limitOrDefault(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list external markets: %w", err)
	}
	defer rows.Close()

	var out []domain.ExternalMarket
	for rows.Next() {
		m, err := scanExternalMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan external market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list external markets rows: %w", err)
	}
	return out, nil
}

func scanExternalMarket(row pgx.Row) (domain.ExternalMarket, error) {
	var m domain.ExternalMarket
	err := row.Scan(
		&m.ID, &m.Marketplace, &m.ExternalID, &m.Question, &m.Category, &m.PriceBps,
		&m.Liquidity, &m.ResolutionTime, &m.LastUpdate, &m.ParentMarketID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExternalMarket{}, domain.ErrNotFound
		}
		return domain.ExternalMarket{}, err
	}
	return m, nil
}
