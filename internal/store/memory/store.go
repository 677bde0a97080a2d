package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// ExternalMarketStore implements domain.ExternalMarketStore.
type ExternalMarketStore struct {
	mu   sync.RWMutex
	rows map[string]domain.ExternalMarket
}

// NewExternalMarketStore returns an empty ExternalMarketStore.
func NewExternalMarketStore() *ExternalMarketStore {
	return &ExternalMarketStore{rows: make(map[string]domain.ExternalMarket)}
}

func externalKey(marketplace, externalID string) string {
	return marketplace + "\x00" + externalID
}

// Upsert inserts or refreshes a listing keyed by (marketplace, externalID).
func (s *ExternalMarketStore) Upsert(_ context.Context, m domain.ExternalMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := externalKey(m.Marketplace, m.ExternalID)
	if cur, ok := s.rows[key]; ok {
		m.ID = cur.ID
	} else if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.rows[key] = m
	return nil
}

// Get returns a listing by its natural key.
func (s *ExternalMarketStore) Get(_ context.Context, marketplace, externalID string) (domain.ExternalMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[externalKey(marketplace, externalID)]
	if !ok {
		return domain.ExternalMarket{}, fmt.Errorf("memory: get external market %s/%s: %w", marketplace, externalID, domain.ErrNotFound)
	}
	return m, nil
}

// ListByMarketplace returns listings of marketplace, most recently refreshed
// first.
func (s *ExternalMarketStore) ListByMarketplace(_ context.Context, marketplace string, opts domain.ListOpts) ([]domain.ExternalMarket, error) {
	s.mu.RLock()
	var out []domain.ExternalMarket
	for _, m := range s.rows {
		if m.Marketplace == marketplace {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].LastUpdate.After(out[j].LastUpdate)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CheckpointStore implements domain.CheckpointStore.
type CheckpointStore struct {
	mu     sync.Mutex
	blocks map[string]uint64
}

// NewCheckpointStore returns an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{blocks: make(map[string]uint64)}
}

// Get returns the stored block for name.
func (s *CheckpointStore) Get(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return b, nil
}

// Set stores block for name unless a higher block is already stored.
func (s *CheckpointStore) Set(_ context.Context, name string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.blocks[name]; !ok || block > cur {
		s.blocks[name] = block
	}
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteBefore removes entries created strictly before the cutoff.
func (s *AuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// Events returns the logged event names in order. Tests use it.
func (s *AuditStore) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Event
	}
	return out
}

var (
	_ domain.MarketStore         = (*MarketStore)(nil)
	_ domain.ExternalMarketStore = (*ExternalMarketStore)(nil)
	_ domain.DisputeStore        = (*DisputeStore)(nil)
	_ domain.CheckpointStore     = (*CheckpointStore)(nil)
	_ domain.AuditStore          = (*AuditStore)(nil)
)
