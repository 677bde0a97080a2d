package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Syncer runs market syncs on demand.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
	SyncOne(ctx context.Context, marketplace, externalID string) (domain.ExternalMarket, error)
}

// SyncHandler triggers market syncs.
type SyncHandler struct {
	syncer Syncer
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(s Syncer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: s, logger: logHandler(logger, "sync")}
}

// SyncAll runs one full sync and reports how many listings were stored.
// POST /api/sync
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.syncer.SyncAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced":      n,
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// SyncOne refreshes one listing.
// POST /api/sync/{marketplace}/{id}
func (h *SyncHandler) SyncOne(w http.ResponseWriter, r *http.Request) {
	marketplace, id := r.PathValue("marketplace"), r.PathValue("id")
	m, err := h.syncer.SyncOne(r.Context(), marketplace, id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync one failed",
			slog.String("marketplace", marketplace),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketplace":     m.Marketplace,
		"external_id":     m.ExternalID,
		"question":        m.Question,
		"category":        m.Category,
		"price_bps":       m.PriceBps,
		"liquidity":       m.Liquidity,
		"resolution_time": m.ResolutionTime.Format(time.RFC3339),
		"last_update":     m.LastUpdate.Format(time.RFC3339),
	})
}
