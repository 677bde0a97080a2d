// Package memory implements the domain stores in process memory. It backs
// the memory store backend and component tests, with the same conditional
// semantics as the postgres stores.
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

type marketKey struct {
	chainID  int64
	contract string
	onchain  uint64
}

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.Market
	byIdent map[marketKey]string
	now     func() time.Time
}

// NewMarketStore returns an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		byID:    make(map[string]domain.Market),
		byIdent: make(map[marketKey]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func identOf(m domain.Market) marketKey {
	return marketKey{chainID: m.ChainID, contract: strings.ToLower(m.ContractAddress), onchain: m.OnchainID}
}

func (s *MarketStore) normalize(m domain.Market) domain.Market {
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
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.StatusChangedAt.IsZero() {
		m.StatusChangedAt = m.CreatedAt
	}
	m.ContractAddress = strings.ToLower(m.ContractAddress)
	m.Creator = strings.ToLower(m.Creator)
	return m
}

// Upsert inserts m or refreshes the descriptive fields of the stored row.
func (s *MarketStore) Upsert(_ context.Context, m domain.Market) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identOf(m)
	if id, ok := s.byIdent[key]; ok {
		cur := s.byID[id]
		cur.Question = m.Question
		cur.Category = m.Category
		if cur.Category == "" {
			cur.Category = "general"
		}
		cur.ResolutionTime = m.ResolutionTime
		cur.TotalVolume = m.TotalVolume
		cur.Creator = strings.ToLower(m.Creator)
		cur.UpdatedAt = s.now()
		s.byID[id] = cur
		return cur, nil
	}

	m = s.normalize(m)
	s.byID[m.ID] = m
	s.byIdent[key] = m.ID
	return m, nil
}

// GetOrCreate inserts m only when its identity is unknown.
func (s *MarketStore) GetOrCreate(_ context.Context, m domain.Market) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identOf(m)
	if id, ok := s.byIdent[key]; ok {
		return s.byID[id], nil
	}
	m = s.normalize(m)
	s.byID[m.ID] = m
	s.byIdent[key] = m.ID
	return m, nil
}

// GetByID returns a market by row id.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// GetByOnchainID returns the market at (chainID, contract, onchainID).
func (s *MarketStore) GetByOnchainID(_ context.Context, chainID int64, contract string, onchainID uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := marketKey{chainID: chainID, contract: strings.ToLower(contract), onchain: onchainID}
	id, ok := s.byIdent[key]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s/%d: %w", contract, onchainID, domain.ErrNotFound)
	}
	return s.byID[id], nil
}

// ListRecentlyResolved returns resolved markets updated at or after since.
func (s *MarketStore) ListRecentlyResolved(_ context.Context, since time.Time, limit int) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool {
		return m.Status == domain.MarketStatusResolved && !m.UpdatedAt.Before(since)
	}, func(a, b domain.Market) bool { return a.UpdatedAt.Before(b.UpdatedAt) }, limit), nil
}

// ListSubjective returns subjective markets matching filter, longest waiting
// first.
func (s *MarketStore) ListSubjective(_ context.Context, f domain.SubjectiveFilter) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool {
		if m.Type != domain.MarketTypeSubjective || m.Status != f.Status {
			return false
		}
		if f.ResolvedBy != nil && m.ResolutionTime.After(*f.ResolvedBy) {
			return false
		}
		if f.ChangedBefore != nil && m.StatusChangedAt.After(*f.ChangedBefore) {
			return false
		}
		return true
	}, func(a, b domain.Market) bool { return a.StatusChangedAt.Before(b.StatusChangedAt) }, f.Limit), nil
}

// AdvanceStatus moves a market forward when it is still at from.
func (s *MarketStore) AdvanceStatus(_ context.Context, id string, from, to domain.MarketStatus, outcome *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: advance market %s: %w", id, domain.ErrNotFound)
	}
	if !from.CanAdvanceTo(to, m.Type) {
		return fmt.Errorf("memory: advance market %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	if m.Status != from {
		return fmt.Errorf("memory: advance market %s from %s: %w", id, from, domain.ErrConflict)
	}
	now := s.now()
	m.Status = to
	if outcome != nil {
		v := *outcome
		m.Outcome = &v
	}
	m.UpdatedAt = now
	m.StatusChangedAt = now
	s.byID[id] = m
	return nil
}

// SetStatusChangedAt backdates a market's last status change. Tests use it to
// simulate elapsed phase windows.
func (s *MarketStore) SetStatusChangedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok {
		m.StatusChangedAt = at
		s.byID[id] = m
	}
}

func (s *MarketStore) filter(keep func(domain.Market) bool, less func(a, b domain.Market) bool, limit int) []domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, m := range s.byID {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
