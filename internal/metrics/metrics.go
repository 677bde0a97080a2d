// Package metrics provides the Prometheus metrics exported by oraclebot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oraclebot"

// Metrics holds every collector. All methods are safe on a nil *Metrics so
// components can run without instrumentation.
type Metrics struct {
	reg prometheus.Gatherer

	// Loop metrics
	CycleRuns     *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec

	// Oracle metrics
	MarketsScored     prometheus.Counter
	DisputeCandidates prometheus.Counter
	EvidenceFailures  *prometheus.CounterVec

	// Dispute bot metrics
	DisputesSubmitted prometheus.Counter
	DuplicatesDropped prometheus.Counter
	RewardsClaimed    prometheus.Counter
	EventWatermark    prometheus.Gauge

	// Coordinator metrics
	PhaseTransitions *prometheus.CounterVec
	Notifications    *prometheus.CounterVec

	// Syncer metrics
	ListingsSynced prometheus.Counter
}

// New registers all collectors with reg. Passing nil uses the default
// Prometheus registry.
func New(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Metrics{
		reg: gatherer,

		CycleRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Completed cycles by component and result",
		}, []string{"component", "result"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Cycle wall time by component",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"component"}),

		MarketsScored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "markets_scored_total",
			Help:      "Resolved markets run through the anomaly scorer",
		}),
		DisputeCandidates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "dispute_candidates_total",
			Help:      "Candidate disputes persisted",
		}),
		EvidenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "evidence_failures_total",
			Help:      "Evidence or reasoning calls that failed, by source",
		}, []string{"source"}),

		DisputesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute_bot",
			Name:      "submitted_total",
			Help:      "Disputes submitted on-chain",
		}),
		DuplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute_bot",
			Name:      "duplicates_dropped_total",
			Help:      "Local candidates deleted as stale duplicates",
		}),
		RewardsClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute_bot",
			Name:      "rewards_claimed_total",
			Help:      "Disputes marked claimed",
		}),
		EventWatermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispute_bot",
			Name:      "event_watermark_block",
			Help:      "Last block scanned for dispute events",
		}),

		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase_transitions_total",
			Help:      "Subjective market transitions by target status",
		}, []string{"to"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "notifications_total",
			Help:      "Verifier notifications by sink and result",
		}, []string{"sink", "result"}),

		ListingsSynced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "listings_synced_total",
			Help:      "External listings upserted",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveCycle records one loop cycle.
func (m *Metrics) ObserveCycle(component string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CycleRuns.WithLabelValues(component, result).Inc()
	m.CycleDuration.WithLabelValues(component).Observe(d.Seconds())
}

// MarketScored counts a market run through the scorer.
func (m *Metrics) MarketScored() {
	if m == nil {
		return
	}
	m.MarketsScored.Inc()
}

// CandidateCreated counts a persisted candidate dispute.
func (m *Metrics) CandidateCreated() {
	if m == nil {
		return
	}
	m.DisputeCandidates.Inc()
}

// Submitted counts an on-chain dispute submission.
func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.DisputesSubmitted.Inc()
}

// DuplicateDropped counts a deleted stale duplicate.
func (m *Metrics) DuplicateDropped() {
	if m == nil {
		return
	}
	m.DuplicatesDropped.Inc()
}

// Claimed counts a dispute marked claimed.
func (m *Metrics) Claimed() {
	if m == nil {
		return
	}
	m.RewardsClaimed.Inc()
}

// Synced counts n upserted listings.
func (m *Metrics) Synced(n int) {
	if m == nil {
		return
	}
	m.ListingsSynced.Add(float64(n))
}

// EvidenceFailed counts a failed evidence or reasoning call.
func (m *Metrics) EvidenceFailed(source string) {
	if m == nil {
		return
	}
	m.EvidenceFailures.WithLabelValues(source).Inc()
}

// SetWatermark records the dispute event watermark.
func (m *Metrics) SetWatermark(block uint64) {
	if m == nil {
		return
	}
	m.EventWatermark.Set(float64(block))
}

// PhaseChanged counts a subjective market transition.
func (m *Metrics) PhaseChanged(to string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(to).Inc()
}

// Notified counts a verifier notification delivery attempt.
func (m *Metrics) Notified(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(sink, result).Inc()
}
