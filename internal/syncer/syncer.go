// Package syncer mirrors external marketplace listings into the local store,
// attached to a placeholder parent market.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// ZeroAddress is the creator of the placeholder parent market.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// PlaceholderQuestion names the parent market of every external listing.
const PlaceholderQuestion = "External Aggregated Markets"

// Source lists normalized markets from one marketplace.
type Source interface {
	Name() string
	ListMarkets(ctx context.Context, minLiquidity float64, limit int) ([]domain.ExternalMarket, error)
	GetMarket(ctx context.Context, id string) (domain.ExternalMarket, error)
}

// Options configures a Syncer.
type Options struct {
	ChainID           int64
	AggregatorAddress string
	MinLiquidity      float64
	Limit             int
}

// Deps holds the collaborators of a Syncer.
type Deps struct {
	Markets  domain.MarketStore
	External domain.ExternalMarketStore
	Sources  []Source
	Metrics  *metrics.Metrics
}

// Syncer upserts external listings.
type Syncer struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	// mu serializes cycles started by the loop and by on-demand triggers.
	mu sync.Mutex
}

// New creates a Syncer.
func New(deps Deps, opts Options, logger *slog.Logger) *Syncer {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &Syncer{
		deps:   deps,
		opts:   opts,
		logger: logger.With(slog.String("component", "syncer")),
	}
}

// Placeholder returns the parent market of external listings, creating it
// when absent.
func (s *Syncer) Placeholder(ctx context.Context) (domain.Market, error) {
	m, err := s.deps.Markets.GetOrCreate(ctx, domain.Market{
		ChainID:         s.opts.ChainID,
		ContractAddress: strings.ToLower(s.opts.AggregatorAddress),
		OnchainID:       0,
		Question:        PlaceholderQuestion,
		Category:        "general",
		Type:            domain.MarketTypePublic,
		Status:          domain.MarketStatusActive,
		ResolutionTime:  time.Now().UTC(),
		Creator:         ZeroAddress,
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("syncer: placeholder market: %w", err)
	}
	return m, nil
}

// RunCycle syncs every source.
func (s *Syncer) RunCycle(ctx context.Context) error {
	_, err := s.SyncAll(ctx)
	return err
}

// SyncAll fetches and upserts listings of every source. A failing source is
// logged and the others still run.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.Placeholder(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, src := range s.deps.Sources {
		listings, err := src.ListMarkets(ctx, s.opts.MinLiquidity, s.opts.Limit)
		if err != nil {
			s.logger.ErrorContext(ctx, "fetch listings failed",
				slog.String("marketplace", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		synced := 0
		for _, l := range listings {
			if ctx.Err() != nil {
				break
			}
			if err := s.store(ctx, parent, l); err != nil {
				s.logger.WarnContext(ctx, "upsert listing failed",
					slog.String("marketplace", l.Marketplace),
					slog.String("external_id", l.ExternalID),
					slog.String("error", err.Error()),
				)
				continue
			}
			synced++
		}
		s.deps.Metrics.Synced(synced)
		s.logger.InfoContext(ctx, "listings synced",
			slog.String("marketplace", src.Name()),
			slog.Int("fetched", len(listings)),
			slog.Int("synced", synced),
		)
		total += synced
	}
	return total, nil
}

// SyncOne fetches and upserts a single listing.
func (s *Syncer) SyncOne(ctx context.Context, marketplace, externalID string) (domain.ExternalMarket, error) {
	var src Source
	for _, candidate := range s.deps.Sources {
		if candidate.Name() == marketplace {
			src = candidate
			break
		}
	}
	if src == nil {
		return domain.ExternalMarket{}, fmt.Errorf("syncer: marketplace %q: %w", marketplace, domain.ErrNotFound)
	}

	l, err := src.GetMarket(ctx, externalID)
	if err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("syncer: fetch %s/%s: %w", marketplace, externalID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, err := s.Placeholder(ctx)
	if err != nil {
		return domain.ExternalMarket{}, err
	}
	if err := s.store(ctx, parent, l); err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("syncer: store %s/%s: %w", marketplace, externalID, err)
	}
	s.deps.Metrics.Synced(1)
	return s.deps.External.Get(ctx, l.Marketplace, l.ExternalID)
}

func (s *Syncer) store(ctx context.Context, parent domain.Market, l domain.ExternalMarket) error {
	if l.ExternalID == "" {
		return errors.New("listing without external id")
	}
	l.ParentMarketID = parent.ID
	return s.deps.External.Upsert(ctx, l)
}
