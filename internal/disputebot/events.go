package disputebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// SyncEvents scans dispute contract events strictly after the watermark and
// up to the current head, then moves the watermark to the head. A failed scan
// keeps the watermark for up to ScanRetries cycles; after that the range is
// skipped and the watermark moves to the head anyway.
func (b *Bot) SyncEvents(ctx context.Context) error {
	head, err := b.deps.Contract.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("disputebot: latest block: %w", err)
	}

	name := b.CheckpointName()
	var from uint64
	last, err := b.deps.Checkpoints.Get(ctx, name)
	switch {
	case err == nil:
		from = last + 1
	case isNotFound(err) && b.opts.StartBlock < 0:
		b.logger.InfoContext(ctx, "no checkpoint, starting at chain head", slog.Uint64("block", head))
		return b.setWatermark(ctx, name, head)
	case isNotFound(err):
		from = uint64(b.opts.StartBlock)
	default:
		return fmt.Errorf("disputebot: read checkpoint: %w", err)
	}
	if from > head {
		return nil
	}

	evs, err := b.deps.Contract.DisputeEvents(ctx, from, head)
	if err != nil {
		b.scanFailures++
		if b.scanFailures < b.opts.ScanRetries {
			return fmt.Errorf("disputebot: dispute events %d-%d (attempt %d): %w", from, head, b.scanFailures, err)
		}
		b.logger.WarnContext(ctx, "skipping unreadable block range",
			slog.Uint64("from", from),
			slog.Uint64("to", head),
			slog.Int("attempts", b.scanFailures),
			slog.String("error", err.Error()),
		)
		b.scanFailures = 0
		b.audit(ctx, "dispute_events_skipped", map[string]any{
			"from":  from,
			"to":    head,
			"error": err.Error(),
		})
		return b.setWatermark(ctx, name, head)
	}
	b.scanFailures = 0
	if n := len(evs.Submitted) + len(evs.Resolved) + len(evs.Claimed); n > 0 {
		b.logger.InfoContext(ctx, "dispute events found",
			slog.Uint64("from", from),
			slog.Uint64("to", head),
			slog.Int("submitted", len(evs.Submitted)),
			slog.Int("resolved", len(evs.Resolved)),
			slog.Int("claimed", len(evs.Claimed)),
		)
	}

	for _, ev := range evs.Submitted {
		if err := b.applySubmitted(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "apply DisputeSubmitted failed",
				slog.Uint64("dispute_id", ev.DisputeID),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, ev := range evs.Resolved {
		if err := b.applyResolved(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "apply DisputeResolved failed",
				slog.Uint64("dispute_id", ev.DisputeID),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, ev := range evs.Claimed {
		if err := b.applyClaimed(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "apply RewardClaimed failed",
				slog.Uint64("dispute_id", ev.DisputeID),
				slog.String("error", err.Error()),
			)
		}
	}

	return b.setWatermark(ctx, name, head)
}

func (b *Bot) setWatermark(ctx context.Context, name string, block uint64) error {
	if err := b.deps.Checkpoints.Set(ctx, name, block); err != nil {
		return fmt.Errorf("disputebot: write checkpoint: %w", err)
	}
	b.deps.Metrics.SetWatermark(block)
	return nil
}

// applySubmitted back-fills the on-chain id into the oldest local candidate
// for the event's (market, submitter).
func (b *Bot) applySubmitted(ctx context.Context, ev domain.DisputeSubmittedEvent) error {
	if _, err := b.deps.Disputes.GetByDisputeID(ctx, b.opts.ChainID, ev.DisputeID); err == nil {
		return nil
	} else if !isNotFound(err) {
		return err
	}

	m, err := b.deps.Markets.GetByOnchainID(ctx, b.opts.ChainID, b.opts.MarketsContract, ev.MarketID)
	if isNotFound(err) {
		b.logger.DebugContext(ctx, "DisputeSubmitted for unknown market",
			slog.Uint64("market_onchain_id", ev.MarketID),
			slog.Uint64("dispute_id", ev.DisputeID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	ok, err := b.deps.Disputes.BackfillDisputeID(ctx, m.ID, ev.Submitter, b.opts.ChainID, ev.DisputeID)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	if ok {
		b.logger.InfoContext(ctx, "synced dispute id from event",
			slog.String("market_id", m.ID),
			slog.Uint64("dispute_id", ev.DisputeID),
			slog.Uint64("block", ev.BlockNumber),
		)
	}
	return nil
}

func (b *Bot) applyResolved(ctx context.Context, ev domain.DisputeResolvedEvent) error {
	d, err := b.deps.Disputes.GetByDisputeID(ctx, b.opts.ChainID, ev.DisputeID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Status != domain.DisputeStatusActive {
		return nil
	}
	to := domain.DisputeStatusRejected
	if ev.Accepted {
		to = domain.DisputeStatusResolved
	}
	if err := b.deps.Disputes.TransitionStatus(ctx, d.ID, domain.DisputeStatusActive, to); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}
	b.logger.InfoContext(ctx, "dispute settled on-chain",
		slog.Uint64("dispute_id", ev.DisputeID),
		slog.String("status", string(to)),
	)
	return nil
}

func (b *Bot) applyClaimed(ctx context.Context, ev domain.RewardClaimedEvent) error {
	if !strings.EqualFold(ev.Claimer, b.submitter) {
		return nil
	}
	d, err := b.deps.Disputes.GetByDisputeID(ctx, b.opts.ChainID, ev.DisputeID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Status != domain.DisputeStatusResolved {
		return nil
	}
	err = b.deps.Disputes.TransitionStatus(ctx, d.ID, domain.DisputeStatusResolved, domain.DisputeStatusClaimed)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	return nil
}
