// Package disputebot submits candidate disputes on-chain, reconciles their
// on-chain ids from contract events and claims rewards for disputes that
// resolved in the bot's favour.
package disputebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/oraclebot/internal/chain"
	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options configures a Bot.
type Options struct {
	ChainID int64
	// Stake is attached to every submission, in wei.
	Stake               *big.Int
	MaxConcurrent       int
	ConfidenceThreshold int
	SubmitDelay         time.Duration
	ClaimDelay          time.Duration
	ClaimBatchSize      int
	LeaseDuration       time.Duration
	LockTTL             time.Duration
	ItemTimeout         time.Duration
	// StartBlock is where the first event scan begins when no checkpoint
	// exists. A negative value starts at the chain head.
	StartBlock int64
	// ScanRetries is how many consecutive cycles a failing event scan is
	// retried before its block range is skipped.
	ScanRetries int
	// MarketsContract is the market contract whose on-chain ids the dispute
	// contract references.
	MarketsContract string
	// Owner identifies this process in candidate leases.
	Owner string
}

// Deps holds the collaborators of a Bot. Locks, Audit, Notifier and Metrics
// are optional.
type Deps struct {
	Contract    domain.DisputeContract
	Markets     domain.MarketStore
	Disputes    domain.DisputeStore
	Checkpoints domain.CheckpointStore
	Audit       domain.AuditStore
	Locks       domain.LockManager
	Notifier    Notifier
	Metrics     *metrics.Metrics
}

// Bot drives candidate disputes through submission and claim.
type Bot struct {
	deps          Deps
	opts          Options
	submitter     string
	stake         string
	submitLimiter *rate.Limiter
	claimLimiter  *rate.Limiter
	logger        *slog.Logger
	now           func() time.Time

	// scanFailures counts consecutive failed event scans. Only the loop
	// goroutine touches it.
	scanFailures int
}

// New creates a Bot that submits as submitter, the signer's address.
func New(deps Deps, submitter string, opts Options, logger *slog.Logger) *Bot {
	if opts.Stake == nil {
		opts.Stake = new(big.Int)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.ClaimBatchSize <= 0 {
		opts.ClaimBatchSize = 20
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 10 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.LeaseDuration
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 5 * time.Minute
	}
	if opts.ScanRetries <= 0 {
		opts.ScanRetries = 3
	}
	if opts.Owner == "" {
		opts.Owner = defaultOwner()
	}

	return &Bot{
		deps:          deps,
		opts:          opts,
		submitter:     strings.ToLower(submitter),
		stake:         chain.FormatEther(opts.Stake),
		submitLimiter: rate.NewLimiter(rate.Every(opts.SubmitDelay), 1),
		claimLimiter:  rate.NewLimiter(rate.Every(opts.ClaimDelay), 1),
		logger: logger.With(
			slog.String("component", "disputebot"),
			slog.String("submitter", strings.ToLower(submitter)),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "oraclebot"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Submitter returns the bot's lower-case address.
func (b *Bot) Submitter() string { return b.submitter }

// CheckpointName is the name of the event-scan watermark.
func (b *Bot) CheckpointName() string {
	return fmt.Sprintf("dispute_bot:%d:%s", b.opts.ChainID, strings.ToLower(b.deps.Contract.Address()))
}

// Watermark returns the last block scanned for events, or ErrNotFound before
// the first scan.
func (b *Bot) Watermark(ctx context.Context) (uint64, error) {
	return b.deps.Checkpoints.Get(ctx, b.CheckpointName())
}

// RunCycle syncs events, then submits candidates, then claims rewards. The
// passes run even when the event sync fails; its error is returned at the end.
func (b *Bot) RunCycle(ctx context.Context) error {
	syncErr := b.SyncEvents(ctx)
	if err := b.SubmitPending(ctx); err != nil {
		b.logger.ErrorContext(ctx, "submission pass failed", slog.String("error", err.Error()))
	}

	if err := b.ClaimRewards(ctx); err != nil {
		b.logger.ErrorContext(ctx, "claim pass failed", slog.String("error", err.Error()))
	}
	return syncErr
}

func (b *Bot) audit(ctx context.Context, event string, detail map[string]any) {
	if b.deps.Audit == nil {
		return
	}
	if err := b.deps.Audit.Log(ctx, event, detail); err != nil {
		b.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bot) notify(ctx context.Context, event, title, message string) {
	if b.deps.Notifier == nil {
		return
	}
	if err := b.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
