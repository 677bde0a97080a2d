// Package notify delivers operator alerts to chat channels. Alerts are
// filtered by event type so operators receive only the ones they subscribe to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// Event types raised by the resolution components.
const (
	EventDisputeCandidate = "dispute_candidate"
	EventDisputeSubmitted = "dispute_submitted"
	EventRewardClaimed    = "reward_claimed"
	EventVerifierCommit   = "verifier_commit"
	EventVerifierReveal   = "verifier_reveal"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and metrics (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to its senders. Notify honours the event filter;
// NotifyAll bypasses it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		metrics: m,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends an alert when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends an alert regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. One failing sender does not stop the
// rest; failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		n.metrics.Notified(s.Name(), err)
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
