package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
)

// NotificationStream is the Redis stream every verifier notification is
// appended to.
const NotificationStream = "verifier:notifications"

// VerifierChannel returns the Pub/Sub channel of one verifier.
func VerifierChannel(verifier string) string {
	return "verifier:" + strings.ToLower(verifier)
}

// VerifierNotification asks one verifier to act on a subjective market.
type VerifierNotification struct {
	MarketID        string    `json:"marketId"`
	OnchainMarketID uint64    `json:"onchainMarketId"`
	Question        string    `json:"question"`
	Verifier        string    `json:"verifier"`
	Phase           string    `json:"phase"`
	Message         string    `json:"message"`
	SentAt          time.Time `json:"sentAt"`
}

// Sink delivers verifier notifications to one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n VerifierNotification) error
}

// Dispatcher fans notifications out to its sinks in the background. Send
// failures are logged and never reach the caller.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each delivery gets its own timeout.
func NewDispatcher(sinks []Sink, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		metrics: m,
		logger:  logger.With(slog.String("component", "verifier-dispatcher")),
	}
}

// Dispatch starts delivery of every notification to every sink and returns
// immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, ns ...VerifierNotification) {
	base := context.WithoutCancel(ctx)
	for _, n := range ns {
		for _, s := range d.sinks {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				sendCtx, cancel := context.WithTimeout(base, d.timeout)
				defer cancel()

				err := s.Deliver(sendCtx, n)
				d.metrics.Notified(s.Name(), err)
				if err != nil {
					d.logger.WarnContext(sendCtx, "verifier notification failed",
						slog.String("sink", s.Name()),
						slog.String("verifier", n.Verifier),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// BusSink publishes notifications on the signal bus: appended to the shared
// stream and published on the verifier's own channel.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "redis" }

func (s *BusSink) Deliver(ctx context.Context, n VerifierNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("coordinator: encode notification: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, NotificationStream, payload); err != nil {
		return err
	}
	return s.bus.Publish(ctx, VerifierChannel(n.Verifier), payload)
}

// Notifier is the operator notification channel.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifierSink forwards verifier notifications to the operator channels.
type NotifierSink struct {
	notifier Notifier
}

// NewNotifierSink creates a NotifierSink.
func NewNotifierSink(n Notifier) *NotifierSink {
	return &NotifierSink{notifier: n}
}

func (s *NotifierSink) Name() string { return "notifier" }

func (s *NotifierSink) Deliver(ctx context.Context, n VerifierNotification) error {
	return s.notifier.Notify(ctx, "verifier_"+n.Phase, "Verifier action needed",
		fmt.Sprintf("%s\nmarket %d: %s\nverifier %s", n.Message, n.OnchainMarketID, n.Question, n.Verifier))
}

// LogSink writes notifications to the log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, n VerifierNotification) error {
	s.logger.InfoContext(ctx, "verifier notification",
		slog.String("verifier", n.Verifier),
		slog.Uint64("onchain_market_id", n.OnchainMarketID),
		slog.String("phase", n.Phase),
		slog.String("message", n.Message),
	)
	return nil
}
