package disputebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/oraclebot/internal/chain"
	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
)

// ClaimRewards claims the reward of every locally resolved dispute of this
// bot whose live on-chain status is Resolved.
func (b *Bot) ClaimRewards(ctx context.Context) error {
	rows, err := b.deps.Disputes.ListClaimable(ctx, b.submitter, b.opts.ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("disputebot: list claimable: %w", err)
	}
	if len(rows) == 0 {
		b.logger.DebugContext(ctx, "no resolved disputes to claim")
		return nil
	}

	for _, d := range rows {
		if ctx.Err() != nil {
			break
		}
		if err := b.claimLimiter.Wait(ctx); err != nil {
			break
		}
		if err := b.claimOne(ctx, d); err != nil {
			b.logger.ErrorContext(ctx, "claim reward failed",
				slog.Uint64("dispute_id", d.DisputeID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (b *Bot) claimOne(ctx context.Context, d domain.Dispute) error {
	itemCtx, cancel := pipeline.ItemContext(ctx, b.opts.ItemTimeout)
	defer cancel()

	live, err := b.deps.Contract.GetDispute(itemCtx, d.DisputeID)
	if err != nil {
		return fmt.Errorf("read live dispute: %w", err)
	}
	if live.Status != domain.OnchainDisputeResolved {
		b.logger.InfoContext(itemCtx, "dispute not claimable on-chain, skipping",
			slog.Uint64("dispute_id", d.DisputeID),
			slog.String("onchain_status", live.Status.String()),
		)
		return nil
	}

	tx, err := b.deps.Contract.ClaimReward(itemCtx, d.DisputeID)
	switch {
	case err == nil:
		b.logger.InfoContext(itemCtx, "reward claimed",
			slog.Uint64("dispute_id", d.DisputeID),
			slog.String("tx", tx),
		)
	case chain.IsAlreadyClaimed(err):
		b.logger.InfoContext(itemCtx, "reward already claimed", slog.Uint64("dispute_id", d.DisputeID))
	default:
		return fmt.Errorf("claim on-chain: %w", err)
	}

	err = b.deps.Disputes.TransitionStatus(itemCtx, d.ID, domain.DisputeStatusResolved, domain.DisputeStatusClaimed)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("mark claimed: %w", err)
	}
	b.deps.Metrics.Claimed()
	b.audit(itemCtx, "reward_claimed", map[string]any{
		"dispute_row": d.ID,
		"dispute_id":  d.DisputeID,
		"tx":          tx,
	})
	if tx != "" {
		b.notify(itemCtx, "reward_claimed", "Reward claimed",
			fmt.Sprintf("Dispute #%d\ntx %s", d.DisputeID, tx))
	}
	return nil
}
