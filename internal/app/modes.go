package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/chain"
	"github.com/alanyoungcy/oraclebot/internal/coordinator"
	"github.com/alanyoungcy/oraclebot/internal/disputebot"
	"github.com/alanyoungcy/oraclebot/internal/oracle"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
	"github.com/alanyoungcy/oraclebot/internal/platform/polymarket"
	"github.com/alanyoungcy/oraclebot/internal/server"
	"github.com/alanyoungcy/oraclebot/internal/server/handler"
	"github.com/alanyoungcy/oraclebot/internal/syncer"
)

// notifyTimeout bounds one verifier notification delivery.
const notifyTimeout = 10 * time.Second

// runtime holds the components built for the configured mode. Fields for
// components the mode does not run are nil.
type runtime struct {
	components []pipeline.Component

	oracle      *oracle.Service
	bot         *disputebot.Bot
	coordinator *coordinator.Coordinator
	dispatcher  *coordinator.Dispatcher
	syncer      *syncer.Syncer
}

func (r *runtime) names() []string {
	out := make([]string, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c.Name)
	}
	return out
}

// build constructs every component the mode runs, in data-flow order.
func (a *App) build(deps *Dependencies) (*runtime, error) {
	rt := &runtime{}

	if a.cfg.Runs("syncer") {
		rt.syncer = a.buildSyncer(deps)
		rt.components = append(rt.components, pipeline.Component{
			Name:     "syncer",
			Interval: a.cfg.Syncer.Interval.Duration,
			Cycle:    rt.syncer.RunCycle,
		})
	}
	if a.cfg.Runs("oracle") {
		rt.oracle = a.buildOracle(deps)
		rt.components = append(rt.components, pipeline.Component{
			Name:     "oracle",
			Interval: a.cfg.Oracle.Interval.Duration,
			Cycle:    rt.oracle.RunCycle,
		})
	}
	if a.cfg.Runs("disputebot") {
		bot, err := a.buildDisputeBot(deps)
		if err != nil {
			return nil, err
		}
		rt.bot = bot
		rt.components = append(rt.components, pipeline.Component{
			Name:     "disputebot",
			Interval: a.cfg.DisputeBot.Interval.Duration,
			Cycle:    bot.RunCycle,
		})
	}
	if a.cfg.Runs("coordinator") {
		rt.coordinator, rt.dispatcher = a.buildCoordinator(deps)
		rt.components = append(rt.components, pipeline.Component{
			Name:     "coordinator",
			Interval: a.cfg.Coordinator.Interval.Duration,
			Cycle:    rt.coordinator.RunCycle,
		})
	}

	if deps.Archiver != nil && a.cfg.S3.AuditRetention.Duration > 0 {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.AuditRetention.Duration, deps.LockManager, a.logger)
		rt.components = append(rt.components, pipeline.Component{
			Name:     "archiver",
			Interval: a.cfg.S3.ArchiveInterval.Duration,
			Cycle:    archiver.RunCycle,
		})
	}

	if len(rt.components) == 0 {
		return nil, fmt.Errorf("app: mode %q runs no components", a.cfg.Mode)
	}
	return rt, nil
}

func (a *App) buildSyncer(deps *Dependencies) *syncer.Syncer {
	return syncer.New(syncer.Deps{
		Markets:  deps.MarketStore,
		External: deps.ExternalMarketStore,
		Sources:  []syncer.Source{polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)},
		Metrics:  deps.Metrics,
	}, syncer.Options{
		ChainID:           a.cfg.Chain.ChainID,
		AggregatorAddress: a.cfg.Contracts.Aggregator,
		MinLiquidity:      a.cfg.Syncer.MinLiquidity,
		Limit:             a.cfg.Syncer.Limit,
	}, a.logger)
}

func (a *App) buildOracle(deps *Dependencies) *oracle.Service {
	oc := a.cfg.Oracle
	timeout := oc.RequestTimeout.Duration

	sources := []oracle.EvidenceSource{oracle.HeuristicSource{}}
	if oc.NewsAPIKey != "" {
		sources = append(sources, oracle.NewNewsSource(oc.NewsAPIURL, oc.NewsAPIKey, timeout))
	}

	var reasoner oracle.Reasoner = oracle.HeuristicReasoner{}
	if oc.ReasonerURL != "" {
		reasoner = oracle.NewHTTPReasoner(oc.ReasonerURL, oc.ReasonerAPIKey, timeout)
	}

	submitter := oc.SubmitterAddress
	if submitter == "" && deps.Signer != nil {
		submitter = deps.Signer.AddressHex()
	}

	svcDeps := oracle.Deps{
		Markets:  deps.MarketStore,
		Disputes: deps.DisputeStore,
		Audit:    deps.AuditStore,
		Sources:  sources,
		Reasoner: reasoner,
		Archive:  deps.BlobWriter,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}

	return oracle.NewService(svcDeps, oracle.Options{
		Submitter:      submitter,
		Lookback:       oc.Lookback.Duration,
		BatchSize:      oc.BatchSize,
		EvidenceDelay:  oc.EvidenceDelay.Duration,
		RequestTimeout: timeout,
		Params: oracle.ScoreParams{
			LowConfidence:         oc.LowConfidence,
			FastResolutionWindow:  oc.FastResolutionWindow.Duration,
			FastResolutionPenalty: oc.FastResolutionPenalty,
			LowVolumeThreshold:    oc.LowVolumeThreshold,
			LowVolumePenalty:      oc.LowVolumePenalty,
			IncorrectPenalty:      oc.IncorrectPenalty,
			DisputeThreshold:      oc.DisputeThreshold,
		},
	}, a.logger)
}

func (a *App) buildDisputeBot(deps *Dependencies) (*disputebot.Bot, error) {
	bc := a.cfg.DisputeBot
	stake, err := chain.ParseEther(bc.Stake)
	if err != nil {
		return nil, fmt.Errorf("app: dispute stake: %w", err)
	}

	botDeps := disputebot.Deps{
		Contract:    chain.NewDisputeContract(deps.Chain, a.cfg.Contracts.Dispute),
		Markets:     deps.MarketStore,
		Disputes:    deps.DisputeStore,
		Checkpoints: deps.CheckpointStore,
		Audit:       deps.AuditStore,
		Locks:       deps.LockManager,
		Notifier:    deps.Notifier,
		Metrics:     deps.Metrics,
	}

	return disputebot.New(botDeps, deps.Signer.AddressHex(), disputebot.Options{
		ChainID:             a.cfg.Chain.ChainID,
		Stake:               stake,
		MaxConcurrent:       bc.MaxConcurrent,
		ConfidenceThreshold: bc.ConfidenceThreshold,
		SubmitDelay:         bc.SubmitDelay.Duration,
		ClaimDelay:          bc.ClaimDelay.Duration,
		ClaimBatchSize:      bc.ClaimBatchSize,
		LeaseDuration:       bc.LeaseDuration.Duration,
		ItemTimeout:         bc.ItemTimeout.Duration,
		StartBlock:          bc.StartBlock,
		ScanRetries:         bc.ScanRetries,
		MarketsContract:     a.cfg.Contracts.Markets,
	}, a.logger), nil
}

func (a *App) buildCoordinator(deps *Dependencies) (*coordinator.Coordinator, *coordinator.Dispatcher) {
	cc := a.cfg.Coordinator

	sinks := []coordinator.Sink{coordinator.NewLogSink(a.logger)}
	if deps.SignalBus != nil {
		sinks = append(sinks, coordinator.NewBusSink(deps.SignalBus))
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, coordinator.NewNotifierSink(deps.Notifier))
	}
	dispatcher := coordinator.NewDispatcher(sinks, notifyTimeout, deps.Metrics, a.logger)

	var scanFrom uint64
	if cc.ScanFromBlock > 0 {
		scanFrom = uint64(cc.ScanFromBlock)
	}

	c := coordinator.New(coordinator.Deps{
		Factory:    chain.NewSubjectiveFactory(deps.Chain, a.cfg.Contracts.SubjectiveFactory),
		Markets:    deps.MarketStore,
		Audit:      deps.AuditStore,
		Dispatcher: dispatcher,
		Metrics:    deps.Metrics,
	}, coordinator.Options{
		CommitWindow:  cc.CommitWindow.Duration,
		RevealWindow:  cc.RevealWindow.Duration,
		BatchSize:     cc.BatchSize,
		ScanFromBlock: scanFrom,
		ItemTimeout:   cc.ItemTimeout.Duration,
	}, a.logger)
	return c, dispatcher
}

// newServer builds the status server over the running components.
func (a *App) newServer(deps *Dependencies, rt *runtime) *server.Server {
	var botAddress string
	if deps.Signer != nil {
		botAddress = deps.Signer.AddressHex()
	}

	var watermark handler.Watermark
	if rt.bot != nil {
		watermark = rt.bot
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Backends, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Chain.ChainID, botAddress, rt.names(), watermark, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if rt.syncer != nil {
		handlers.Sync = handler.NewSyncHandler(rt.syncer, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Evidence = handler.NewEvidenceHandler(deps.BlobReader, a.logger)
	}

	sc := a.cfg.Server
	return server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		SyncLimit:   sc.SyncLimit,
		SyncWindow:  sc.SyncWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)
}

// seedPlaceholder creates the aggregator parent market ahead of the first
// sync cycle.
func (a *App) seedPlaceholder(ctx context.Context, rt *runtime) {
	if rt.syncer == nil {
		return
	}
	if _, err := rt.syncer.Placeholder(ctx); err != nil {
		a.logger.WarnContext(ctx, "seed placeholder market failed", slog.String("error", err.Error()))
	}
}
