package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// Component is a named periodic cycle.
type Component struct {
	Name     string
	Interval time.Duration
	Cycle    Cycle
}

// Orchestrator runs a set of components concurrently.
type Orchestrator struct {
	components []Component
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator for the given components.
func NewOrchestrator(components []Component, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		components: components,
		metrics:    m,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every component loop in an errgroup and blocks until ctx is
// cancelled. A loop that exits for any other reason cancels the rest and its
// error is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.components) == 0 {
		return fmt.Errorf("pipeline: no components to run")
	}

	names := make([]string, len(o.components))
	for i, c := range o.components {
		names[i] = c.Name
	}
	o.logger.Info("orchestrator starting", slog.Any("components", names))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range o.components {
		g.Go(func() error {
			err := Loop(gctx, c.Name, c.Interval, c.Cycle, o.metrics, o.logger)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", c.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
