package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// maxBundleSize caps how much of a stored bundle is read.
const maxBundleSize = 4 << 20

var hashRe = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// EvidenceHandler serves archived evidence bundles by their on-chain hash.
type EvidenceHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewEvidenceHandler creates an EvidenceHandler.
func NewEvidenceHandler(blobs domain.BlobReader, logger *slog.Logger) *EvidenceHandler {
	return &EvidenceHandler{blobs: blobs, logger: logHandler(logger, "evidence")}
}

// GetEvidence returns the bundle whose keccak256 is the path hash. A stored
// object that does not hash to the requested value is never served.
// GET /api/evidence/{hash}
func (h *EvidenceHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(r.PathValue("hash"))
	if !hashRe.MatchString(hash) {
		writeError(w, http.StatusBadRequest, "hash must be 0x followed by 64 hex digits")
		return
	}

	body, err := h.blobs.Get(r.Context(), domain.EvidencePath(hash))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "evidence not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read evidence failed",
			slog.String("hash", hash),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "evidence unavailable")
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxBundleSize))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read evidence body failed",
			slog.String("hash", hash),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "evidence unavailable")
		return
	}
	if crypto.Keccak256Hash(raw).Hex() != hash {
		h.logger.ErrorContext(r.Context(), "stored evidence does not match hash", slog.String("hash", hash))
		writeError(w, http.StatusConflict, "stored evidence does not match hash")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
