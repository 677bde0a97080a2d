package oracle

import (
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// ScoreParams are the penalties and thresholds of the anomaly score.
type ScoreParams struct {
	// LowConfidence: a reasoner confidence below this adds the shortfall.
	LowConfidence int
	// FastResolutionWindow: markets resolved sooner than this after creation
	// add FastResolutionPenalty.
	FastResolutionWindow  time.Duration
	FastResolutionPenalty int
	// LowVolumeThreshold is in native units.
	LowVolumeThreshold float64
	LowVolumePenalty   int
	IncorrectPenalty   int
	// DisputeThreshold: a score strictly above it proposes a dispute.
	DisputeThreshold int
}

// DefaultScoreParams returns the production penalties.
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		LowConfidence:         50,
		FastResolutionWindow:  time.Hour,
		FastResolutionPenalty: 20,
		LowVolumeThreshold:    0.01,
		LowVolumePenalty:      15,
		IncorrectPenalty:      30,
		DisputeThreshold:      40,
	}
}

// Assessment is the scorer output for one market.
type Assessment struct {
	AnomalyScore  int
	Confidence    int
	ShouldDispute bool
	Verdict       domain.Verdict
	// Findings are the timing and volume red flags, in evidence form.
	Findings []domain.Evidence
}

// Score computes the anomaly score of m given the reasoner's analysis.
func Score(m domain.Market, a domain.Analysis, now time.Time, p ScoreParams) Assessment {
	var (
		score    int
		findings []domain.Evidence
	)

	if a.Confidence < p.LowConfidence {
		score += p.LowConfidence - a.Confidence
	}
	if now.Sub(m.CreatedAt) < p.FastResolutionWindow {
		score += p.FastResolutionPenalty
		findings = append(findings, domain.Evidence{
			Source: "scorer",
			Kind:   KindTiming,
			Reason: "Market resolved too quickly",
		})
	}
	if m.TotalVolume < p.LowVolumeThreshold {
		score += p.LowVolumePenalty
		findings = append(findings, domain.Evidence{
			Source: "scorer",
			Kind:   KindVolume,
			Reason: "Suspiciously low trading volume",
		})
	}
	if a.Verdict == domain.VerdictIncorrect {
		score += p.IncorrectPenalty
	}

	return Assessment{
		AnomalyScore:  score,
		Confidence:    clamp(100-score, 0, 100),
		ShouldDispute: score > p.DisputeThreshold,
		Verdict:       a.Verdict,
		Findings:      findings,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
