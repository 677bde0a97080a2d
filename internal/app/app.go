// Package app wires the stores, caches, chain client and notification sinks
// together and runs the components selected by the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oraclebot/internal/config"
	"github.com/alanyoungcy/oraclebot/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires the dependencies, starts every component of the mode plus the
// optional status server, and blocks until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	log := a.logger.With(slog.String("component", "app"))
	log.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("store", a.cfg.Database.Backend),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	rt, err := a.build(deps)
	if err != nil {
		return err
	}
	if rt.dispatcher != nil {
		// Outstanding verifier notifications finish before connections close.
		a.closers = append(a.closers, rt.dispatcher.Wait)
	}
	a.seedPlaceholder(ctx, rt)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.NewOrchestrator(rt.components, deps.Metrics, a.logger).Run(gctx)
	})
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, rt)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application", slog.String("component", "app"))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
