package disputebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
)

// SubmitPending submits up to MaxConcurrent candidates, oldest first. Item
// failures are logged and the batch continues.
func (b *Bot) SubmitPending(ctx context.Context) error {
	cands, err := b.deps.Disputes.ListCandidates(ctx, b.submitter, b.opts.ConfidenceThreshold, b.now(), b.opts.MaxConcurrent)
	if err != nil {
		return fmt.Errorf("disputebot: list candidates: %w", err)
	}
	if len(cands) == 0 {
		b.logger.DebugContext(ctx, "no pending disputes to submit")
		return nil
	}

	for _, d := range cands {
		if ctx.Err() != nil {
			break
		}
		if err := b.submitLimiter.Wait(ctx); err != nil {
			break
		}
		if err := b.submitOne(ctx, d); err != nil {
			b.logger.ErrorContext(ctx, "submit dispute failed",
				slog.String("dispute_row", d.ID),
				slog.String("market_id", d.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (b *Bot) submitOne(ctx context.Context, d domain.Dispute) error {
	now := b.now()
	ok, err := b.deps.Disputes.AcquireLease(ctx, d.ID, b.opts.Owner, now, now.Add(b.opts.LeaseDuration))
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		b.logger.DebugContext(ctx, "candidate leased elsewhere", slog.String("dispute_row", d.ID))
		return nil
	}

	itemCtx, cancel := pipeline.ItemContext(ctx, b.opts.ItemTimeout)
	defer cancel()

	// The lease is released on every path that did not send a transaction or
	// that mined without a DisputeSubmitted log. A send error keeps it until
	// expiry so the event sync can back-fill a transaction that did land.
	release := true
	defer func() {
		if !release {
			return
		}
		if err := b.deps.Disputes.ReleaseLease(itemCtx, d.ID, b.opts.Owner); err != nil {
			b.logger.WarnContext(itemCtx, "release lease failed",
				slog.String("dispute_row", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	if b.deps.Locks != nil {
		unlock, err := b.deps.Locks.Acquire(itemCtx, lockKey(d.MarketID, b.submitter), b.opts.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			b.logger.InfoContext(itemCtx, "submission lock held elsewhere", slog.String("market_id", d.MarketID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire submit lock: %w", err)
		}
		defer unlock()
	}

	dup, err := b.deps.Disputes.HasSubmittedDuplicate(itemCtx, d.MarketID, b.submitter, d.ID)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		release = false
		if err := b.deps.Disputes.Delete(itemCtx, d.ID); err != nil {
			return fmt.Errorf("delete duplicate: %w", err)
		}
		b.deps.Metrics.DuplicateDropped()
		b.audit(itemCtx, "dispute_duplicate_deleted", map[string]any{
			"dispute_row": d.ID,
			"market_id":   d.MarketID,
		})
		b.logger.InfoContext(itemCtx, "dispute already on-chain for market, removed duplicate",
			slog.String("dispute_row", d.ID),
			slog.String("market_id", d.MarketID),
		)
		return nil
	}

	m, err := b.deps.Markets.GetByID(itemCtx, d.MarketID)
	if isNotFound(err) {
		b.logger.WarnContext(itemCtx, "market not found for dispute",
			slog.String("dispute_row", d.ID),
			slog.String("market_id", d.MarketID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load market: %w", err)
	}

	b.logger.InfoContext(itemCtx, "submitting dispute",
		slog.String("dispute_row", d.ID),
		slog.Uint64("onchain_market_id", m.OnchainID),
		slog.String("stake", b.stake),
	)
	res, err := b.deps.Contract.SubmitDispute(itemCtx, domain.SubmitRequest{
		MarketID:        m.OnchainID,
		EvidenceHash:    d.EvidenceHash,
		ProposedOutcome: d.ProposedOutcome,
		Stake:           b.opts.Stake,
	})
	if err != nil {
		release = false
		return fmt.Errorf("submit on-chain: %w", err)
	}
	b.deps.Metrics.Submitted()

	if res.DisputeID == 0 {
		b.logger.WarnContext(itemCtx, "no DisputeSubmitted event in receipt, will retry",
			slog.String("dispute_row", d.ID),
			slog.String("tx", res.TxHash),
		)
		return nil
	}

	assigned, err := b.deps.Disputes.AssignDisputeID(itemCtx, d.ID, b.opts.ChainID, res.DisputeID, b.stake)
	if err != nil {
		return fmt.Errorf("assign dispute id %d: %w", res.DisputeID, err)
	}
	release = false
	if !assigned {
		b.logger.InfoContext(itemCtx, "dispute id already recorded", slog.String("dispute_row", d.ID))
		return nil
	}

	b.logger.InfoContext(itemCtx, "dispute submitted",
		slog.String("dispute_row", d.ID),
		slog.Uint64("dispute_id", res.DisputeID),
		slog.String("tx", res.TxHash),
		slog.Uint64("block", res.BlockNumber),
	)
	b.audit(itemCtx, "dispute_submitted", map[string]any{
		"dispute_row": d.ID,
		"dispute_id":  res.DisputeID,
		"market_id":   d.MarketID,
		"tx":          res.TxHash,
		"stake":       b.stake,
	})
	b.notify(itemCtx, "dispute_submitted", "Dispute submitted",
		fmt.Sprintf("Dispute #%d on market %d (%s)\nstake %s\ntx %s",
			res.DisputeID, m.OnchainID, m.Question, b.stake, res.TxHash))
	return nil
}

func lockKey(marketID, submitter string) string {
	return "dispute:submit:" + marketID + ":" + submitter
}
