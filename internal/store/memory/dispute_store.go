package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

type chainDispute struct {
	chainID   int64
	disputeID uint64
}

// DisputeStore implements domain.DisputeStore.
type DisputeStore struct {
	mu        sync.Mutex
	rows      map[string]domain.Dispute
	byChainID map[chainDispute]string
}

// NewDisputeStore returns an empty DisputeStore.
func NewDisputeStore() *DisputeStore {
	return &DisputeStore{
		rows:      make(map[string]domain.Dispute),
		byChainID: make(map[chainDispute]string),
	}
}

// Create inserts d.
func (s *DisputeStore) Create(_ context.Context, d domain.Dispute) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, ok := s.rows[d.ID]; ok {
		return domain.Dispute{}, fmt.Errorf("memory: create dispute %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	if d.DisputeID > 0 {
		key := chainDispute{d.ChainID, d.DisputeID}
		if _, ok := s.byChainID[key]; ok {
			return domain.Dispute{}, fmt.Errorf("memory: create dispute #%d: %w", d.DisputeID, domain.ErrAlreadyExists)
		}
		s.byChainID[key] = d.ID
	}
	if d.Status == "" {
		d.Status = domain.DisputeStatusActive
	}
	if d.Stake == "" {
		d.Stake = "0"
	}
	now := time.Now().UTC()
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = now
	}
	d.UpdatedAt = now
	d.Submitter = strings.ToLower(d.Submitter)
	s.rows[d.ID] = d
	return d, nil
}

// GetByID returns a dispute by row id.
func (s *DisputeStore) GetByID(_ context.Context, id string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("memory: get dispute %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

// GetByDisputeID returns the row holding the on-chain id.
func (s *DisputeStore) GetByDisputeID(_ context.Context, chainID int64, disputeID uint64) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChainID[chainDispute{chainID, disputeID}]
	if !ok {
		return domain.Dispute{}, fmt.Errorf("memory: get dispute #%d: %w", disputeID, domain.ErrNotFound)
	}
	return s.rows[id], nil
}

// ExistsForMarket reports whether any dispute exists for (marketID, submitter).
func (s *DisputeStore) ExistsForMarket(_ context.Context, marketID, submitter string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	submitter = strings.ToLower(submitter)
	for _, d := range s.rows {
		if d.MarketID == marketID && d.Submitter == submitter {
			return true, nil
		}
	}
	return false, nil
}

// HasSubmittedDuplicate reports whether another on-chain row for (marketID,
// submitter) is active or resolved.
func (s *DisputeStore) HasSubmittedDuplicate(_ context.Context, marketID, submitter, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	submitter = strings.ToLower(submitter)
	for _, d := range s.rows {
		if d.ID == excludeID || d.MarketID != marketID || d.Submitter != submitter || !d.Submitted() {
			continue
		}
		if d.Status == domain.DisputeStatusActive || d.Status == domain.DisputeStatusResolved {
			return true, nil
		}
	}
	return false, nil
}

// ListCandidates returns submitter's free unsubmitted active rows below
// maxConfidence, oldest first.
func (s *DisputeStore) ListCandidates(_ context.Context, submitter string, maxConfidence int, now time.Time, limit int) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submitter = strings.ToLower(submitter)
	var out []domain.Dispute
	for _, d := range s.rows {
		if isCandidate(d) && d.Submitter == submitter && d.AIConfidence < maxConfidence && leaseFree(d, now) {
			out = append(out, d)
		}
	}
	sortBy(out, func(d domain.Dispute) time.Time { return d.SubmittedAt })
	return capped(out, limit), nil
}

// AcquireLease claims a candidate for owner until the given time.
func (s *DisputeStore) AcquireLease(_ context.Context, id, owner string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok || !isCandidate(d) {
		return false, nil
	}
	if !leaseFree(d, now) && d.LeaseOwner != owner {
		return false, nil
	}
	d.LeaseOwner = owner
	d.LeaseUntil = &until
	d.UpdatedAt = time.Now().UTC()
	s.rows[id] = d
	return true, nil
}

// ReleaseLease clears a lease held by owner.
func (s *DisputeStore) ReleaseLease(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok || d.LeaseOwner != owner {
		return nil
	}
	d.LeaseOwner = ""
	d.LeaseUntil = nil
	s.rows[id] = d
	return nil
}

// AssignDisputeID records the on-chain id and stake of a row still at 0.
func (s *DisputeStore) AssignDisputeID(_ context.Context, id string, chainID int64, disputeID uint64, stake string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok || d.Submitted() {
		return false, nil
	}
	if err := s.claimChainID(chainID, disputeID, id); err != nil {
		return false, err
	}
	d.ChainID = chainID
	d.DisputeID = disputeID
	d.Stake = stake
	d.LeaseOwner = ""
	d.LeaseUntil = nil
	d.UpdatedAt = time.Now().UTC()
	s.rows[id] = d
	return true, nil
}

// BackfillDisputeID assigns the on-chain id to the oldest unsubmitted active
// row for (marketID, submitter).
func (s *DisputeStore) BackfillDisputeID(_ context.Context, marketID, submitter string, chainID int64, disputeID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submitter = strings.ToLower(submitter)
	var matches []domain.Dispute
	for _, d := range s.rows {
		if d.MarketID == marketID && d.Submitter == submitter && isCandidate(d) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return false, nil
	}
	sortBy(matches, func(d domain.Dispute) time.Time { return d.SubmittedAt })

	d := matches[0]
	if err := s.claimChainID(chainID, disputeID, d.ID); err != nil {
		return false, err
	}
	d.ChainID = chainID
	d.DisputeID = disputeID
	d.LeaseOwner = ""
	d.LeaseUntil = nil
	d.UpdatedAt = time.Now().UTC()
	s.rows[d.ID] = d
	return true, nil
}

// TransitionStatus moves a dispute from one status to the next.
func (s *DisputeStore) TransitionStatus(_ context.Context, id string, from, to domain.DisputeStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("memory: dispute %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok || d.Status != from {
		return fmt.Errorf("memory: transition dispute %s from %s: %w", id, from, domain.ErrConflict)
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	s.rows[id] = d
	return nil
}

// ListClaimable returns resolved, submitted rows owned by submitter.
func (s *DisputeStore) ListClaimable(_ context.Context, submitter string, limit int) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submitter = strings.ToLower(submitter)
	var out []domain.Dispute
	for _, d := range s.rows {
		if d.Status == domain.DisputeStatusResolved && d.Submitter == submitter && d.Submitted() {
			out = append(out, d)
		}
	}
	sortBy(out, func(d domain.Dispute) time.Time { return d.UpdatedAt })
	return capped(out, limit), nil
}

// Delete removes a row.
func (s *DisputeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("memory: delete dispute %s: %w", id, domain.ErrNotFound)
	}
	if d.Submitted() {
		delete(s.byChainID, chainDispute{d.ChainID, d.DisputeID})
	}
	delete(s.rows, id)
	return nil
}

// All returns every row ordered by submission time.
func (s *DisputeStore) All() []domain.Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dispute, 0, len(s.rows))
	for _, d := range s.rows {
		out = append(out, d)
	}
	sortBy(out, func(d domain.Dispute) time.Time { return d.SubmittedAt })
	return out
}

// claimChainID reserves (chainID, disputeID) for row id. Callers hold mu.
func (s *DisputeStore) claimChainID(chainID int64, disputeID uint64, id string) error {
	key := chainDispute{chainID, disputeID}
	if owner, ok := s.byChainID[key]; ok && owner != id {
		return fmt.Errorf("memory: dispute #%d: %w", disputeID, domain.ErrAlreadyExists)
	}
	s.byChainID[key] = id
	return nil
}

func isCandidate(d domain.Dispute) bool {
	return d.Status == domain.DisputeStatusActive && !d.Submitted()
}

func leaseFree(d domain.Dispute, now time.Time) bool {
	return d.LeaseUntil == nil || !d.LeaseUntil.After(now)
}

func sortBy(ds []domain.Dispute, key func(domain.Dispute) time.Time) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := key(ds[i]), key(ds[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ds[i].ID < ds[j].ID
	})
}

func capped(ds []domain.Dispute, limit int) []domain.Dispute {
	if limit > 0 && len(ds) > limit {
		return ds[:limit]
	}
	return ds
}
