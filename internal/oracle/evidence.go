// Package oracle scores recently resolved markets for anomalies and records
// a candidate dispute for each market whose resolution looks wrong.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// EvidenceSource gathers evidence about a market question.
type EvidenceSource interface {
	Name() string
	FetchEvidence(ctx context.Context, question string) ([]domain.Evidence, error)
}

// Evidence kinds.
const (
	KindHeuristic = "heuristic"
	KindTiming    = "timing"
	KindVolume    = "volume"
	KindNews      = "news"
)

// HeuristicSource flags questions that look like test or demo markets.
type HeuristicSource struct{}

// Name returns the source identifier.
func (HeuristicSource) Name() string { return KindHeuristic }

// FetchEvidence never fails.
func (HeuristicSource) FetchEvidence(_ context.Context, question string) ([]domain.Evidence, error) {
	lower := strings.ToLower(question)
	if strings.Contains(lower, "test") || strings.Contains(lower, "demo") {
		return []domain.Evidence{{
			Source: KindHeuristic,
			Kind:   KindHeuristic,
			Reason: "Test/demo market detected",
		}}, nil
	}
	return nil, nil
}

// NewsSource searches a NewsAPI-compatible endpoint for articles about the
// question.
type NewsSource struct {
	endpoint   string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

// NewNewsSource creates a NewsSource. endpoint is the full search URL, e.g.
// "https://newsapi.org/v2/everything".
func NewNewsSource(endpoint, apiKey string, timeout time.Duration) *NewsSource {
	return &NewsSource{
		endpoint:   endpoint,
		apiKey:     apiKey,
		pageSize:   5,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the source identifier.
func (n *NewsSource) Name() string { return KindNews }

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// FetchEvidence returns one entry per matching article.
func (n *NewsSource) FetchEvidence(ctx context.Context, question string) ([]domain.Evidence, error) {
	params := url.Values{}
	params.Set("q", question)
	params.Set("pageSize", fmt.Sprint(n.pageSize))
	params.Set("sortBy", "relevancy")
	params.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("oracle/news: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if n.apiKey != "" {
		req.Header.Set("X-Api-Key", n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle/news: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oracle/news: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oracle/news: unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var out newsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("oracle/news: decode response: %w", err)
	}
	if out.Status != "" && out.Status != "ok" {
		return nil, fmt.Errorf("oracle/news: api status %q: %s", out.Status, out.Message)
	}

	evidence := make([]domain.Evidence, 0, len(out.Articles))
	for _, a := range out.Articles {
		evidence = append(evidence, domain.Evidence{
			Source: "news:" + a.Source.Name,
			Kind:   KindNews,
			Title:  a.Title,
			URL:    a.URL,
		})
	}
	return evidence, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
