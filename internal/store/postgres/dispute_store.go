package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// uniqueViolation is the SQLSTATE raised by a unique index conflict.
const uniqueViolation = "23505"

// DisputeStore implements domain.DisputeStore using PostgreSQL. Every
// mutation is a single conditional statement, so concurrent bot instances
// never both act on the same row.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given connection pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeColumns = `
	id, chain_id, dispute_id, market_id, submitter, evidence_hash, trim_scale(stake)::text,
	status, proposed_outcome, ai_confidence, submitted_at, updated_at,
	lease_owner, lease_until`

// Create inserts a new dispute and returns the stored row.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) (domain.Dispute, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = domain.DisputeStatusActive
	}
	if d.Stake == "" {
		d.Stake = "0"
	}
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO disputes (
			id, chain_id, dispute_id, market_id, submitter, evidence_hash, stake,
			status, proposed_outcome, ai_confidence, submitted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::text::numeric,
			$8, $9, $10, $11, NOW()
		)
		RETURNING` + disputeColumns

	row := s.pool.QueryRow(ctx, query,
		d.ID, d.ChainID, int64(d.DisputeID), d.MarketID, strings.ToLower(d.Submitter), d.EvidenceHash, d.Stake,
		string(d.Status), int64(d.ProposedOutcome), d.AIConfidence, d.SubmittedAt,
	)
	out, err := scanDispute(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Dispute{}, fmt.Errorf("postgres: create dispute: %w", domain.ErrAlreadyExists)
		}
		return domain.Dispute{}, fmt.Errorf("postgres: create dispute for market %s: %w", d.MarketID, err)
	}
	return out, nil
}

// GetByID returns a dispute by row id.
func (s *DisputeStore) GetByID(ctx context.Context, id string) (domain.Dispute, error) {
	query := `SELECT` + disputeColumns + ` FROM disputes WHERE id = $1`
	d, err := scanDispute(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %s: %w", id, err)
	}
	return d, nil
}

// GetByDisputeID returns the dispute holding the given on-chain id.
func (s *DisputeStore) GetByDisputeID(ctx context.Context, chainID int64, disputeID uint64) (domain.Dispute, error) {
	query := `SELECT` + disputeColumns + ` FROM disputes WHERE chain_id = $1 AND dispute_id = $2`
	d, err := scanDispute(s.pool.QueryRow(ctx, query, chainID, int64(disputeID)))
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute #%d: %w", disputeID, err)
	}
	return d, nil
}

// ExistsForMarket reports whether any dispute exists for (marketID, submitter).
func (s *DisputeStore) ExistsForMarket(ctx context.Context, marketID, submitter string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM disputes WHERE market_id = $1 AND submitter = $2)`,
		marketID, strings.ToLower(submitter),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: dispute exists for market %s: %w", marketID, err)
	}
	return exists, nil
}

// HasSubmittedDuplicate reports whether another row for (marketID, submitter)
// is already on-chain and still active or resolved.
func (s *DisputeStore) HasSubmittedDuplicate(ctx context.Context, marketID, submitter, excludeID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM disputes
			WHERE market_id = $1 AND submitter = $2 AND id <> $3
			  AND dispute_id > 0 AND status IN ('active', 'resolved')
		)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, marketID, strings.ToLower(submitter), excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: submitted duplicate for market %s: %w", marketID, err)
	}
	return exists, nil
}

// ListCandidates returns submitter's unsubmitted active disputes below
// maxConfidence whose lease is free at now, oldest first.
func (s *DisputeStore) ListCandidates(ctx context.Context, submitter string, maxConfidence int, now time.Time, limit int) ([]domain.Dispute, error) {
	query := `SELECT` + disputeColumns + `
		FROM disputes
		WHERE status = 'active' AND dispute_id = 0 AND submitter = $1
		  AND ai_confidence < $2
		  AND (lease_until IS NULL OR lease_until <= $3)
		ORDER BY submitted_at ASC, id ASC
		LIMIT $4`
	return s.queryDisputes(ctx, "list candidates", query, strings.ToLower(submitter), maxConfidence, now, limitOrDefault(limit))
}

// AcquireLease claims a candidate for owner until the given time. An owner may
// renew its own lease.
func (s *DisputeStore) AcquireLease(ctx context.Context, id, owner string, now, until time.Time) (bool, error) {
	const query = `
		UPDATE disputes SET lease_owner = $2, lease_until = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND dispute_id = 0
		  AND (lease_until IS NULL OR lease_until <= $3 OR lease_owner = $2)`
	tag, err := s.pool.Exec(ctx, query, id, owner, now, until)
	if err != nil {
		return false, fmt.Errorf("postgres: acquire lease on %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease clears a lease held by owner. Leases held by others are left
// alone.
func (s *DisputeStore) ReleaseLease(ctx context.Context, id, owner string) error {
	const query = `
		UPDATE disputes SET lease_owner = '', lease_until = NULL, updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2`
	if _, err := s.pool.Exec(ctx, query, id, owner); err != nil {
		return fmt.Errorf("postgres: release lease on %s: %w", id, err)
	}
	return nil
}

// AssignDisputeID records the on-chain id and stake of a row still at 0.
func (s *DisputeStore) AssignDisputeID(ctx context.Context, id string, chainID int64, disputeID uint64, stake string) (bool, error) {
	const query = `
		UPDATE disputes SET
			chain_id    = $2,
			dispute_id  = $3,
			stake       = $4::text::numeric,
			lease_owner = '',
			lease_until = NULL,
			updated_at  = NOW()
		WHERE id = $1 AND dispute_id = 0`
	tag, err := s.pool.Exec(ctx, query, id, chainID, int64(disputeID), stake)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("postgres: assign dispute #%d: %w", disputeID, domain.ErrAlreadyExists)
		}
		return false, fmt.Errorf("postgres: assign dispute #%d to %s: %w", disputeID, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// BackfillDisputeID gives the on-chain id to the oldest unsubmitted active
// row for (marketID, submitter).
func (s *DisputeStore) BackfillDisputeID(ctx context.Context, marketID, submitter string, chainID int64, disputeID uint64) (bool, error) {
	const query = `
		UPDATE disputes SET
			chain_id    = $3,
			dispute_id  = $4,
			lease_owner = '',
			lease_until = NULL,
			updated_at  = NOW()
		WHERE dispute_id = 0 AND id = (
			SELECT id FROM disputes
			WHERE market_id = $1 AND submitter = $2
			  AND dispute_id = 0 AND status = 'active'
			ORDER BY submitted_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)`
	tag, err := s.pool.Exec(ctx, query, marketID, strings.ToLower(submitter), chainID, int64(disputeID))
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("postgres: backfill dispute #%d: %w", disputeID, domain.ErrAlreadyExists)
		}
		return false, fmt.Errorf("postgres: backfill dispute #%d: %w", disputeID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionStatus moves a dispute from one status to the next.
func (s *DisputeStore) TransitionStatus(ctx context.Context, id string, from, to domain.DisputeStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("postgres: dispute %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	const query = `
		UPDATE disputes SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition dispute %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transition dispute %s from %s: %w", id, from, domain.ErrConflict)
	}
	return nil
}

// ListClaimable returns resolved, submitted disputes owned by submitter.
func (s *DisputeStore) ListClaimable(ctx context.Context, submitter string, limit int) ([]domain.Dispute, error) {
	query := `SELECT` + disputeColumns + `
		FROM disputes
		WHERE status = 'resolved' AND submitter = $1 AND dispute_id > 0
		ORDER BY updated_at ASC, id ASC
		LIMIT $2`
	return s.queryDisputes(ctx, "list claimable", query, strings.ToLower(submitter), limitOrDefault(limit))
}

// Delete removes a dispute row.
func (s *DisputeStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete dispute %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete dispute %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *DisputeStore) queryDisputes(ctx context.Context, op, query string, args ...any) ([]domain.Dispute, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var (
		d               domain.Dispute
		disputeID       int64
		status          string
		proposedOutcome int64
	)
	err := row.Scan(
		&d.ID, &d.ChainID, &disputeID, &d.MarketID, &d.Submitter, &d.EvidenceHash, &d.Stake,
		&status, &proposedOutcome, &d.AIConfidence, &d.SubmittedAt, &d.UpdatedAt,
		&d.LeaseOwner, &d.LeaseUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, err
	}
	d.DisputeID = uint64(disputeID)
	d.Status = domain.DisputeStatus(status)
	d.ProposedOutcome = uint64(proposedOutcome)
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
