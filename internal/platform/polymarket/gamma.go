// Package polymarket reads market listings from the Polymarket Gamma API and
// normalizes them into external markets.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the marketplace identifier.
func (g *GammaClient) Name() string { return Marketplace }

// ListMarkets returns open markets with at least minLiquidity, normalized.
func (g *GammaClient) ListMarkets(ctx context.Context, minLiquidity float64, limit int) ([]domain.ExternalMarket, error) {
	params := url.Values{}
	params.Set("closed", "false")
	params.Set("liquidity_num_min", strconv.FormatFloat(minLiquidity, 'f', -1, 64))
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	now := g.now()
	markets := make([]domain.ExternalMarket, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToExternalMarket(now))
	}
	return markets, nil
}

// GetMarket returns a single normalized market by its Gamma id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.ExternalMarket, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket.ToExternalMarket(g.now()), nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
