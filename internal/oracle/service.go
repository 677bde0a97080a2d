package oracle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
)

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options configures a Service.
type Options struct {
	// Submitter is the address candidate disputes are recorded under.
	Submitter      string
	Lookback       time.Duration
	BatchSize      int
	EvidenceDelay  time.Duration
	RequestTimeout time.Duration
	ItemTimeout    time.Duration
	Params         ScoreParams
}

// Deps holds the collaborators of a Service. Sources, Reasoner, Archive,
// Notifier and Metrics are optional.
type Deps struct {
	Markets  domain.MarketStore
	Disputes domain.DisputeStore
	Audit    domain.AuditStore
	Sources  []EvidenceSource
	Reasoner Reasoner
	Archive  domain.BlobWriter
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Service runs the anomaly scorer over recently resolved markets.
type Service struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps, opts Options, logger *slog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 2 * time.Minute
	}
	opts.Submitter = strings.ToLower(opts.Submitter)

	return &Service{
		deps:    deps,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.EvidenceDelay), 1),
		logger:  logger.With(slog.String("component", "oracle")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle scores one batch of recently resolved markets. Per-market failures
// are logged and do not abort the batch.
func (s *Service) RunCycle(ctx context.Context) error {
	since := s.now().Add(-s.opts.Lookback)
	markets, err := s.deps.Markets.ListRecentlyResolved(ctx, since, s.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("oracle: list resolved markets: %w", err)
	}

	var created int
	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.processMarket(ctx, m)
		if err != nil {
			s.logger.ErrorContext(ctx, "market analysis failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			created++
		}
	}

	s.logger.InfoContext(ctx, "oracle cycle complete",
		slog.Int("markets", len(markets)),
		slog.Int("candidates", created),
	)
	return nil
}

func (s *Service) processMarket(ctx context.Context, m domain.Market) (bool, error) {
	exists, err := s.deps.Disputes.ExistsForMarket(ctx, m.ID, s.opts.Submitter)
	if err != nil {
		return false, fmt.Errorf("check existing dispute: %w", err)
	}
	if exists {
		s.logger.DebugContext(ctx, "dispute already recorded", slog.String("market_id", m.ID))
		return false, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, nil
	}

	itemCtx, cancel := pipeline.ItemContext(ctx, s.opts.ItemTimeout)
	defer cancel()

	a, evidence := s.Evaluate(itemCtx, m)
	s.deps.Metrics.MarketScored()

	log := s.logger.With(
		slog.String("market_id", m.ID),
		slog.Int("anomaly_score", a.AnomalyScore),
		slog.Int("confidence", a.Confidence),
		slog.String("verdict", string(a.Verdict)),
	)
	if !a.ShouldDispute {
		log.DebugContext(itemCtx, "market appears legitimate")
		return false, nil
	}

	var outcome uint64
	if m.Outcome != nil {
		outcome = *m.Outcome
	}
	bundle := Bundle{
		MarketID:        m.ID,
		Question:        m.Question,
		ProposedOutcome: outcome,
		Evidence:        evidence,
		Timestamp:       s.now().Format(time.RFC3339Nano),
	}
	hash, raw, err := bundle.Encode()
	if err != nil {
		return false, err
	}
	s.archive(itemCtx, hash, raw)

	d, err := s.deps.Disputes.Create(itemCtx, domain.Dispute{
		ChainID:         m.ChainID,
		MarketID:        m.ID,
		Submitter:       s.opts.Submitter,
		EvidenceHash:    hash,
		Stake:           "0",
		Status:          domain.DisputeStatusActive,
		ProposedOutcome: outcome,
		AIConfidence:    a.Confidence,
	})
	if err != nil {
		return false, fmt.Errorf("create dispute: %w", err)
	}
	s.deps.Metrics.CandidateCreated()

	log.InfoContext(itemCtx, "anomaly detected, dispute candidate recorded",
		slog.String("dispute_row", d.ID),
		slog.String("evidence_hash", hash),
	)

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(itemCtx, "dispute_candidate", map[string]any{
			"dispute_row":   d.ID,
			"market_id":     m.ID,
			"evidence_hash": hash,
			"anomaly_score": a.AnomalyScore,
			"ai_confidence": a.Confidence,
		}); err != nil {
			log.WarnContext(itemCtx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Notifier != nil {
		msg := fmt.Sprintf("Market %q\nanomaly score %d, confidence %d%%, verdict %s\nevidence %s",
			m.Question, a.AnomalyScore, a.Confidence, a.Verdict, hash)
		if err := s.deps.Notifier.Notify(itemCtx, "dispute_candidate", "Dispute candidate", msg); err != nil {
			log.WarnContext(itemCtx, "notify failed", slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// Evaluate gathers evidence for m, asks the reasoner for a verdict and scores
// the result. It never fails: unavailable sources contribute nothing and an
// unavailable reasoner yields domain.NeutralAnalysis. The returned evidence
// includes the scorer's own findings.
func (s *Service) Evaluate(ctx context.Context, m domain.Market) (Assessment, []domain.Evidence) {
	evidence := s.gather(ctx, m.Question)

	analysis := domain.NeutralAnalysis
	if len(evidence) > 0 && s.deps.Reasoner != nil {
		rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		got, err := s.deps.Reasoner.Analyze(rctx, m.Question, evidence)
		cancel()
		if err != nil {
			s.deps.Metrics.EvidenceFailed("reasoner")
			s.logger.WarnContext(ctx, "reasoner failed, using neutral analysis",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			analysis = got
		}
	}

	a := Score(m, analysis, s.now(), s.opts.Params)
	return a, append(evidence, a.Findings...)
}

func (s *Service) gather(ctx context.Context, question string) []domain.Evidence {
	var evidence []domain.Evidence
	for _, src := range s.deps.Sources {
		sctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		items, err := src.FetchEvidence(sctx, question)
		cancel()
		if err != nil {
			s.deps.Metrics.EvidenceFailed(src.Name())
			s.logger.WarnContext(ctx, "evidence source failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		evidence = append(evidence, items...)
	}
	return evidence
}

// archive stores the evidence bundle under evidence/<hash>.json. Failures are
// logged only; the hash is already final.
func (s *Service) archive(ctx context.Context, hash string, raw []byte) {
	if s.deps.Archive == nil {
		return
	}
	path := domain.EvidencePath(hash)
	if ok, err := s.deps.Archive.Exists(ctx, path); err == nil && ok {
		return
	}
	if err := s.deps.Archive.Put(ctx, path, bytes.NewReader(raw), "application/json"); err != nil {
		s.logger.WarnContext(ctx, "evidence archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
