package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Reasoner judges a market's recorded outcome from gathered evidence.
type Reasoner interface {
	Analyze(ctx context.Context, question string, evidence []domain.Evidence) (domain.Analysis, error)
}

// HeuristicReasoner is the rule-based fallback: heuristic red flags give low
// confidence, anything else is taken as correct.
type HeuristicReasoner struct{}

// Analyze never fails.
func (HeuristicReasoner) Analyze(_ context.Context, _ string, evidence []domain.Evidence) (domain.Analysis, error) {
	for _, e := range evidence {
		if e.Kind == KindHeuristic {
			return domain.Analysis{Confidence: 30, Verdict: domain.VerdictUnclear}, nil
		}
	}
	return domain.Analysis{Confidence: 60, Verdict: domain.VerdictCorrect}, nil
}

// HTTPReasoner posts the question and evidence to an external reasoning
// service and expects {"confidence": 0-100, "verdict": "..."} back.
type HTTPReasoner struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPReasoner creates an HTTPReasoner with its own request timeout.
func NewHTTPReasoner(endpoint, apiKey string, timeout time.Duration) *HTTPReasoner {
	return &HTTPReasoner{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type reasonerRequest struct {
	Question string            `json:"question"`
	Evidence []domain.Evidence `json:"evidence"`
}

// Analyze returns an error for transport failures and for responses outside
// the documented contract.
func (r *HTTPReasoner) Analyze(ctx context.Context, question string, evidence []domain.Evidence) (domain.Analysis, error) {
	body, err := json.Marshal(reasonerRequest{Question: question, Evidence: evidence})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: unexpected status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var a domain.Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: decode response: %w", err)
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: confidence %d out of range", a.Confidence)
	}
	switch a.Verdict {
	case domain.VerdictCorrect, domain.VerdictIncorrect, domain.VerdictUnclear:
	default:
		return domain.Analysis{}, fmt.Errorf("oracle/reasoner: unknown verdict %q", a.Verdict)
	}
	return a, nil
}
