package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Resetter clears every cached symbol. *delta.Engine satisfies it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// CacheHandler serves cache administration endpoints.
type CacheHandler struct {
	resetter Resetter
	logger   *slog.Logger
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(resetter Resetter, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{resetter: resetter, logger: logHandler(logger, "cache")}
}

// Reset flushes the value cache for all symbols.
// POST /api/cache/reset
func (h *CacheHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.resetter.Reset(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "cache reset failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "cache reset via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
