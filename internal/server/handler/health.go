package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

const pingTimeout = 3 * time.Second

// HealthHandler serves the liveness endpoint and reports whether the
// configured backends answer.
type HealthHandler struct {
	started  time.Time
	backends map[string]domain.Pinger
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler over the named backends. A nil map
// reports liveness only.
func NewHealthHandler(backends map[string]domain.Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		started:  time.Now(),
		backends: backends,
		logger:   logger.With(slog.String("component", "health")),
	}
}

// HealthCheck pings every backend concurrently. Any failure turns the
// response into 503 "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.backends))
		healthy = true
	)
	for name, b := range h.backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := "ok"
			if err := b.Ping(ctx); err != nil {
				state = err.Error()
				h.logger.WarnContext(ctx, "backend unreachable",
					slog.String("backend", name),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = state
			if state != "ok" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"backends":       results,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
