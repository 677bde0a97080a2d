package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Watermark reports the last block the dispute bot scanned.
type Watermark interface {
	CheckpointName() string
	Watermark(ctx context.Context) (uint64, error)
}

// StatusHandler serves the runtime summary.
type StatusHandler struct {
	mode       string
	chainID    int64
	botAddress string
	components []string
	watermark  Watermark
	logger     *slog.Logger
}

// NewStatusHandler creates a StatusHandler. watermark may be nil when the
// dispute bot is not running in this process.
func NewStatusHandler(mode string, chainID int64, botAddress string, components []string, watermark Watermark, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:       mode,
		chainID:    chainID,
		botAddress: botAddress,
		components: components,
		watermark:  watermark,
		logger:     logHandler(logger, "status"),
	}
}

// GetStatus responds with the mode, chain and dispute scan watermark.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":        h.mode,
		"chain_id":    h.chainID,
		"bot_address": h.botAddress,
		"components":  h.components,
	}

	if h.watermark != nil {
		wm := map[string]any{"name": h.watermark.CheckpointName()}
		block, err := h.watermark.Watermark(r.Context())
		switch {
		case err == nil:
			wm["block"] = block
		case errors.Is(err, domain.ErrNotFound):
			wm["block"] = nil
		default:
			h.logger.ErrorContext(r.Context(), "read watermark failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "watermark unavailable")
			return
		}
		body["dispute_watermark"] = wm
	}

	writeJSON(w, http.StatusOK, body)
}
