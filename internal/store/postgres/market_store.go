package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	id, chain_id, contract_address, onchain_id, question, category,
	market_type, status, resolution_time, outcome, total_volume, creator,
	created_at, updated_at, status_changed_at`

// Upsert inserts a market or refreshes its descriptive fields. The status of
// an existing row is never touched here; use AdvanceStatus for that.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) (domain.Market, error) {
	m = withMarketDefaults(m)
	query := `
		INSERT INTO markets (
			id, chain_id, contract_address, onchain_id, question, category,
			market_type, status, resolution_time, outcome, total_volume, creator,
			created_at, updated_at, status_changed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, NOW(), $13
		)
		ON CONFLICT (chain_id, contract_address, onchain_id) DO UPDATE SET
			question        = EXCLUDED.question,
			category        = EXCLUDED.category,
			resolution_time = EXCLUDED.resolution_time,
			total_volume    = EXCLUDED.total_volume,
			creator         = EXCLUDED.creator,
			updated_at      = NOW()
		RETURNING` + marketColumns

	row := s.pool.QueryRow(ctx, query, marketArgs(m)...)
	out, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: upsert market %d: %w", m.OnchainID, err)
	}
	return out, nil
}

// GetOrCreate inserts the market when its identity is unknown and returns the
// stored row either way.
func (s *MarketStore) GetOrCreate(ctx context.Context, m domain.Market) (domain.Market, error) {
	m = withMarketDefaults(m)
	const insert = `
		INSERT INTO markets (
			id, chain_id, contract_address, onchain_id, question, category,
			market_type, status, resolution_time, outcome, total_volume, creator,
			created_at, updated_at, status_changed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, NOW(), $13
		)
		ON CONFLICT (chain_id, contract_address, onchain_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, marketArgs(m)...); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get or create market %d: %w", m.OnchainID, err)
	}

	query := `SELECT` + marketColumns + `
		FROM markets
		WHERE chain_id = $1 AND contract_address = $2 AND onchain_id = $3`
	out, err := scanMarket(s.pool.QueryRow(ctx, query, m.ChainID, m.ContractAddress, int64(m.OnchainID)))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get or create market %d: %w", m.OnchainID, err)
	}
	return out, nil
}

// GetByID returns a market by its row id.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets WHERE id = $1`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByOnchainID returns the market at (chainID, contract, onchainID).
func (s *MarketStore) GetByOnchainID(ctx context.Context, chainID int64, contract string, onchainID uint64) (domain.Market, error) {
	query := `SELECT` + marketColumns + `
		FROM markets
		WHERE chain_id = $1 AND contract_address = $2 AND onchain_id = $3`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, chainID, strings.ToLower(contract), int64(onchainID)))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s/%d: %w", contract, onchainID, err)
	}
	return m, nil
}

// ListRecentlyResolved returns resolved markets updated at or after since.
func (s *MarketStore) ListRecentlyResolved(ctx context.Context, since time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT` + marketColumns + `
		FROM markets
		WHERE status = 'resolved' AND updated_at >= $1
		ORDER BY updated_at ASC
		LIMIT $2`
	return s.queryMarkets(ctx, "list recently resolved", query, since, limitOrDefault(limit))
}

// ListSubjective returns subjective markets at filter.Status that satisfy the
// optional time bounds, longest waiting first.
func (s *MarketStore) ListSubjective(ctx context.Context, filter domain.SubjectiveFilter) ([]domain.Market, error) {
	var b strings.Builder
	b.WriteString(`SELECT` + marketColumns + `
		FROM markets
		WHERE market_type = 'subjective' AND status = $1`)
	args := []any{string(filter.Status)}
	argIdx := 2

	if filter.ResolvedBy != nil {
		fmt.Fprintf(&b, " AND resolution_time <= $%d", argIdx)
		args = append(args, *filter.ResolvedBy)
		argIdx++
	}
	if filter.ChangedBefore != nil {
		fmt.Fprintf(&b, " AND status_changed_at <= $%d", argIdx)
		args = append(args, *filter.ChangedBefore)
		argIdx++
	}
	fmt.Fprintf(&b, " ORDER BY status_changed_at ASC, resolution_time ASC LIMIT $%d", argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	return s.queryMarkets(ctx, "list subjective markets", b.String(), args...)
}

// AdvanceStatus moves a market forward one step when the row is still at from.
// A non-nil outcome is written in the same statement.
func (s *MarketStore) AdvanceStatus(ctx context.Context, id string, from, to domain.MarketStatus, outcome *uint64) error {
	var marketType string
	err := s.pool.QueryRow(ctx, `SELECT market_type FROM markets WHERE id = $1`, id).Scan(&marketType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: advance market %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: advance market %s: %w", id, err)
	}
	if !from.CanAdvanceTo(to, domain.MarketType(marketType)) {
		return fmt.Errorf("postgres: advance market %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}

	var outcomeArg *int64
	if outcome != nil {
		v := int64(*outcome)
		outcomeArg = &v
	}

	const query = `
		UPDATE markets SET
			status            = $3,
			outcome           = COALESCE($4, outcome),
			updated_at        = NOW(),
			status_changed_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to), outcomeArg)
	if err != nil {
		return fmt.Errorf("postgres: advance market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: advance market %s from %s: %w", id, from, domain.ErrConflict)
	}
	return nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, op, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}

func withMarketDefaults(m domain.Market) domain.Market {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Category == "" {
		m.Category = "general"
	}
	if m.Type == "" {
		m.Type = domain.MarketTypePublic
	}
	if m.Status == "" {
		m.Status = domain.MarketStatusActive
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.ContractAddress = strings.ToLower(m.ContractAddress)
	m.Creator = strings.ToLower(m.Creator)
	return m
}

func marketArgs(m domain.Market) []any {
	var outcome *int64
	if m.Outcome != nil {
		v := int64(*m.Outcome)
		outcome = &v
	}
	return []any{
		m.ID, m.ChainID, m.ContractAddress, int64(m.OnchainID), m.Question, m.Category,
		string(m.Type), string(m.Status), m.ResolutionTime, outcome, m.TotalVolume, m.Creator,
		m.CreatedAt,
	}
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		onchainID  int64
		marketType string
		status     string
		outcome    *int64
	)
	err := row.Scan(
		&m.ID, &m.ChainID, &m.ContractAddress, &onchainID, &m.Question, &m.Category,
		&marketType, &status, &m.ResolutionTime, &outcome, &m.TotalVolume, &m.Creator,
		&m.CreatedAt, &m.UpdatedAt, &m.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, err
	}
	m.OnchainID = uint64(onchainID)
	m.Type = domain.MarketType(marketType)
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		v := uint64(*outcome)
		m.Outcome = &v
	}
	return m, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
