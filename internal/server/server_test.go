package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWatermark struct {
	block uint64
	err   error
}

func (f fakeWatermark) CheckpointName() string { return "dispute_bot:97:0xd15c" }

func (f fakeWatermark) Watermark(context.Context) (uint64, error) { return f.block, f.err }

type fakeSyncer struct{ calls int }

func (f *fakeSyncer) SyncAll(context.Context) (int, error) {
	f.calls++
	return 3, nil
}

func (f *fakeSyncer) SyncOne(_ context.Context, marketplace, id string) (domain.ExternalMarket, error) {
	if id == "missing" {
		return domain.ExternalMarket{}, domain.ErrNotFound
	}
	return domain.ExternalMarket{Marketplace: marketplace, ExternalID: id, PriceBps: 4200}, nil
}

type countingLimiter struct{ n int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.n++
	return l.n <= 1, nil
}

func newTestServer(wm handler.Watermark, s handler.Syncer, limiter domain.RateLimiter, apiKey string) http.Handler {
	logger := discardLogger()
	h := Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Status: handler.NewStatusHandler("full", 97, "0xbot", []string{"oracle", "disputebot"}, wm, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("oraclebot_up 1\n"))
		}),
	}
	if s != nil {
		h.Sync = handler.NewSyncHandler(s, logger)
	}
	return NewServer(Config{Port: 0, APIKey: apiKey, SyncLimit: 1, SyncWindow: time.Minute}, h, limiter, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(nil, nil, nil, ""), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthReportsBackends(t *testing.T) {
	logger := discardLogger()
	newHandler := func(redisErr error) http.Handler {
		return NewServer(Config{}, Handlers{
			Health: handler.NewHealthHandler(map[string]domain.Pinger{
				"postgres": fakePinger{},
				"redis":    fakePinger{err: redisErr},
			}, logger),
			Status: handler.NewStatusHandler("full", 97, "", nil, nil, logger),
		}, nil, logger).Handler()
	}

	var body struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}

	rec := do(t, newHandler(nil), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, body.Backends)

	rec = do(t, newHandler(errors.New("redis: ping: connection refused")), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Backends["postgres"])
	assert.Contains(t, body.Backends["redis"], "connection refused")
}

func TestStatusReportsWatermark(t *testing.T) {
	rec := do(t, newTestServer(fakeWatermark{block: 1234}, nil, nil, ""), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode      string `json:"mode"`
		ChainID   int64  `json:"chain_id"`
		Watermark struct {
			Name  string  `json:"name"`
			Block *uint64 `json:"block"`
		} `json:"dispute_watermark"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full", body.Mode)
	assert.Equal(t, int64(97), body.ChainID)
	require.NotNil(t, body.Watermark.Block)
	assert.Equal(t, uint64(1234), *body.Watermark.Block)
}

func TestStatusWithoutCheckpoint(t *testing.T) {
	rec := do(t, newTestServer(fakeWatermark{err: domain.ErrNotFound}, nil, nil, ""), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"block":null`)

	rec = do(t, newTestServer(fakeWatermark{err: errors.New("db down")}, nil, nil, ""), http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSyncRouteOnlyWithSyncer(t *testing.T) {
	rec := do(t, newTestServer(nil, nil, nil, ""), http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s := &fakeSyncer{}
	rec = do(t, newTestServer(nil, s, nil, ""), http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"synced":3`)
	assert.Equal(t, 1, s.calls)
}

func TestSyncOne(t *testing.T) {
	h := newTestServer(nil, &fakeSyncer{}, nil, "")

	rec := do(t, h, http.MethodPost, "/api/sync/polymarket/501", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price_bps":4200`)

	rec = do(t, h, http.MethodPost, "/api/sync/polymarket/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRequiresAPIKey(t *testing.T) {
	h := newTestServer(nil, &fakeSyncer{}, nil, "secret")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/sync", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/sync", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/sync", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", nil).Code, "reads stay open")
}

func TestSyncRateLimited(t *testing.T) {
	h := newTestServer(nil, &fakeSyncer{}, &countingLimiter{}, "")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/sync", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/sync", nil).Code)
}

type fakeBlobs map[string]string

func (f fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestEvidenceServedOnlyWhenHashMatches(t *testing.T) {
	bundle := `{"marketId":"m1","question":"q","proposedOutcome":1,"evidence":[],"timestamp":"2026-10-18T00:00:00Z"}`
	hash := crypto.Keccak256Hash([]byte(bundle)).Hex()
	forged := "0x" + strings.Repeat("ab", 32)
	blobs := fakeBlobs{
		domain.EvidencePath(hash):   bundle,
		domain.EvidencePath(forged): `{"marketId":"m2"}`,
	}

	logger := discardLogger()
	h := NewServer(Config{}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Status:   handler.NewStatusHandler("oracle", 97, "", nil, nil, logger),
		Evidence: handler.NewEvidenceHandler(blobs, logger),
	}, nil, logger).Handler()

	rec := do(t, h, http.MethodGet, "/api/evidence/"+hash[2:], nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing 0x prefix")

	rec = do(t, h, http.MethodGet, "/api/evidence/"+hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bundle, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/evidence/"+forged, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/evidence/0x"+strings.Repeat("cd", 32), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	h := newTestServer(nil, nil, nil, "")

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oraclebot_up")

	rec = do(t, h, http.MethodGet, "/api/health", map[string]string{"Origin": "http://dash.local"})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
