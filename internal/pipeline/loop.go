// Package pipeline runs the periodic components of oraclebot: each one is a
// cycle function driven by a ticker, and the orchestrator runs several of
// them under one errgroup.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// Cycle is one pass of a periodic component.
type Cycle func(ctx context.Context) error

// Loop runs cycle immediately and then on every tick until ctx is done. A
// failed cycle is logged and retried on the next tick.
func Loop(ctx context.Context, name string, interval time.Duration, cycle Cycle, m *metrics.Metrics, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", name))

	run := func() {
		start := time.Now()
		err := cycle(ctx)
		m.ObserveCycle(name, time.Since(start), err)
		if err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}
	}

	// Run immediately on start.
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			run()
		}
	}
}

// ItemContext returns a context for one work item that outlives cancellation
// of ctx, so an in-flight chain write is not abandoned on shutdown. It keeps
// ctx's values and is bounded by timeout.
func ItemContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
