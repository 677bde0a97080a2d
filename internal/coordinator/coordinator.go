// Package coordinator drives subjective markets through the commit, reveal
// and resolve phases of the subjective market factory.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
)

const (
	commitMessage = "Please commit your outcome"
	revealMessage = "Please reveal your outcome"
)

// Options configures a Coordinator.
type Options struct {
	CommitWindow time.Duration
	RevealWindow time.Duration
	BatchSize    int
	// ScanFromBlock bounds the commitment and reveal log queries.
	ScanFromBlock uint64
	ItemTimeout   time.Duration
}

// Deps holds the collaborators of a Coordinator. Audit, Dispatcher and
// Metrics are optional.
type Deps struct {
	Factory    domain.SubjectiveFactory
	Markets    domain.MarketStore
	Audit      domain.AuditStore
	Dispatcher *Dispatcher
	Metrics    *metrics.Metrics
}

// Coordinator advances subjective markets one phase at a time.
type Coordinator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator.
func New(deps Deps, opts Options, logger *slog.Logger) *Coordinator {
	if opts.CommitWindow <= 0 {
		opts.CommitWindow = 24 * time.Hour
	}
	if opts.RevealWindow <= 0 {
		opts.RevealWindow = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 5 * time.Minute
	}
	return &Coordinator{
		deps:   deps,
		opts:   opts,
		logger: logger.With(slog.String("component", "coordinator")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle runs one scan per transition. A failed scan does not stop the
// others.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	now := c.now()
	commitCutoff := now.Add(-c.opts.CommitWindow)
	revealCutoff := now.Add(-c.opts.RevealWindow)

	return errors.Join(
		c.scan(ctx, domain.SubjectiveFilter{Status: domain.MarketStatusActive, ResolvedBy: &now}, c.startCommit),
		c.scan(ctx, domain.SubjectiveFilter{Status: domain.MarketStatusCommitPhase, ChangedBefore: &commitCutoff}, c.startReveal),
		c.scan(ctx, domain.SubjectiveFilter{Status: domain.MarketStatusRevealPhase, ChangedBefore: &revealCutoff}, c.resolve),
	)
}

func (c *Coordinator) scan(ctx context.Context, f domain.SubjectiveFilter, step func(context.Context, domain.Market) error) error {
	f.Limit = c.opts.BatchSize
	markets, err := c.deps.Markets.ListSubjective(ctx, f)
	if err != nil {
		return fmt.Errorf("coordinator: list %s markets: %w", f.Status, err)
	}

	for _, m := range markets {
		if ctx.Err() != nil {
			return nil
		}
		itemCtx, cancel := pipeline.ItemContext(ctx, c.opts.ItemTimeout)
		err := step(itemCtx, m)
		cancel()
		if err != nil {
			c.logger.ErrorContext(ctx, "phase transition failed",
				slog.String("market_id", m.ID),
				slog.Uint64("onchain_market_id", m.OnchainID),
				slog.String("status", string(m.Status)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// startCommit opens the commit phase once the resolution time has passed.
func (c *Coordinator) startCommit(ctx context.Context, m domain.Market) error {
	state, err := c.deps.Factory.GetMarket(ctx, m.OnchainID)
	if err != nil {
		return fmt.Errorf("read market: %w", err)
	}
	if state.Phase == domain.SubjectivePhaseActive {
		tx, err := c.deps.Factory.StartCommitPhase(ctx, m.OnchainID)
		if err != nil {
			return fmt.Errorf("start commit phase: %w", err)
		}
		c.logger.InfoContext(ctx, "commit phase started",
			slog.Uint64("onchain_market_id", m.OnchainID),
			slog.String("tx", tx),
		)
		if state, err = c.deps.Factory.GetMarket(ctx, m.OnchainID); err != nil {
			c.logger.WarnContext(ctx, "read verifiers failed", slog.String("error", err.Error()))
		}
	}

	c.dispatch(ctx, m, state.Verifiers, "commit", commitMessage)
	return c.advance(ctx, m, domain.MarketStatusCommitPhase, nil)
}

// startReveal opens the reveal phase after the commit window, provided at
// least one verifier committed.
func (c *Coordinator) startReveal(ctx context.Context, m domain.Market) error {
	state, err := c.deps.Factory.GetMarket(ctx, m.OnchainID)
	if err != nil {
		return fmt.Errorf("read market: %w", err)
	}

	commits, err := c.deps.Factory.Commitments(ctx, m.OnchainID, c.opts.ScanFromBlock)
	if err != nil {
		return fmt.Errorf("read commitments: %w", err)
	}

	if state.Phase == domain.SubjectivePhaseCommit {
		if len(commits) == 0 {
			c.logger.WarnContext(ctx, "no commitments, reveal phase not started",
				slog.Uint64("onchain_market_id", m.OnchainID),
			)
			return nil
		}
		tx, err := c.deps.Factory.StartRevealPhase(ctx, m.OnchainID)
		if err != nil {
			return fmt.Errorf("start reveal phase: %w", err)
		}
		c.logger.InfoContext(ctx, "reveal phase started",
			slog.Uint64("onchain_market_id", m.OnchainID),
			slog.Int("commitments", len(commits)),
			slog.String("tx", tx),
		)
	} else if state.Phase < domain.SubjectivePhaseCommit {
		return fmt.Errorf("on-chain phase %d behind local %s: %w", state.Phase, m.Status, domain.ErrConflict)
	}

	verifiers := make([]string, 0, len(commits))
	seen := make(map[string]bool, len(commits))
	for _, cm := range commits {
		if !seen[cm.Verifier] {
			seen[cm.Verifier] = true
			verifiers = append(verifiers, cm.Verifier)
		}
	}
	c.dispatch(ctx, m, verifiers, "reveal", revealMessage)
	return c.advance(ctx, m, domain.MarketStatusRevealPhase, nil)
}

// resolve force-resolves the market after the reveal window and records the
// outcome read back from the factory.
func (c *Coordinator) resolve(ctx context.Context, m domain.Market) error {
	state, err := c.deps.Factory.GetMarket(ctx, m.OnchainID)
	if err != nil {
		return fmt.Errorf("read market: %w", err)
	}

	if state.Phase == domain.SubjectivePhaseReveal {
		reveals, err := c.deps.Factory.Reveals(ctx, m.OnchainID, c.opts.ScanFromBlock)
		if err != nil {
			c.logger.WarnContext(ctx, "read reveals failed", slog.String("error", err.Error()))
		}
		for _, r := range reveals {
			c.logger.DebugContext(ctx, "outcome revealed",
				slog.Uint64("onchain_market_id", m.OnchainID),
				slog.String("verifier", r.Verifier),
				slog.Uint64("outcome", r.Outcome),
			)
		}

		tx, err := c.deps.Factory.ForceResolveMarket(ctx, m.OnchainID)
		if err != nil {
			return fmt.Errorf("force resolve: %w", err)
		}
		c.logger.InfoContext(ctx, "market force-resolved",
			slog.Uint64("onchain_market_id", m.OnchainID),
			slog.Int("reveals", len(reveals)),
			slog.String("tx", tx),
		)
		if state, err = c.deps.Factory.GetMarket(ctx, m.OnchainID); err != nil {
			return fmt.Errorf("read outcome: %w", err)
		}
	} else if state.Phase < domain.SubjectivePhaseReveal {
		return fmt.Errorf("on-chain phase %d behind local %s: %w", state.Phase, m.Status, domain.ErrConflict)
	}

	outcome := state.Outcome
	return c.advance(ctx, m, domain.MarketStatusResolved, &outcome)
}

func (c *Coordinator) advance(ctx context.Context, m domain.Market, to domain.MarketStatus, outcome *uint64) error {
	if err := c.deps.Markets.AdvanceStatus(ctx, m.ID, m.Status, to, outcome); err != nil {
		return fmt.Errorf("persist %s: %w", to, err)
	}
	c.deps.Metrics.PhaseChanged(string(to))

	detail := map[string]any{
		"market_id":         m.ID,
		"onchain_market_id": m.OnchainID,
		"from":              string(m.Status),
		"to":                string(to),
	}
	if outcome != nil {
		detail["outcome"] = *outcome
	}
	if c.deps.Audit != nil {
		if err := c.deps.Audit.Log(ctx, "market_"+string(to), detail); err != nil {
			c.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	c.logger.InfoContext(ctx, "market advanced",
		slog.String("market_id", m.ID),
		slog.String("from", string(m.Status)),
		slog.String("to", string(to)),
	)
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, m domain.Market, verifiers []string, phase, message string) {
	if c.deps.Dispatcher == nil || len(verifiers) == 0 {
		return
	}
	now := c.now()
	ns := make([]VerifierNotification, 0, len(verifiers))
	for _, v := range verifiers {
		ns = append(ns, VerifierNotification{
			MarketID:        m.ID,
			OnchainMarketID: m.OnchainID,
			Question:        m.Question,
			Verifier:        v,
			Phase:           phase,
			Message:         message,
			SentAt:          now,
		})
	}
	c.deps.Dispatcher.Dispatch(ctx, ns...)
}
