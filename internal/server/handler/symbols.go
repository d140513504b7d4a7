package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// SymbolsHandler serves the per-symbol read endpoints.
type SymbolsHandler struct {
	values  domain.ValueStore
	history domain.DeltaRecordStore
	logger  *slog.Logger
}

// NewSymbolsHandler creates a SymbolsHandler. history may be nil when no
// record store is configured.
func NewSymbolsHandler(values domain.ValueStore, history domain.DeltaRecordStore, logger *slog.Logger) *SymbolsHandler {
	return &SymbolsHandler{values: values, history: history, logger: logHandler(logger, "symbols")}
}

// GetSymbol returns the last cached value for a symbol.
// GET /api/symbols/{symbol}
func (h *SymbolsHandler) GetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	v, err := h.values.Get(r.Context(), symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "get symbol failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "value": v})
}

// ListHistory returns stored delta records for a symbol, newest first.
// GET /api/symbols/{symbol}/history
func (h *SymbolsHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "record history is not configured")
		return
	}
	symbol := pathParam(r, "symbol")
	opts := parseListOpts(r)

	stored, err := h.history.ListBySymbol(r.Context(), symbol, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	type item struct {
		domain.DeltaRecord
		ID         int64  `json:"id"`
		ReceivedAt string `json:"receivedAt"`
	}
	items := make([]item, 0, len(stored))
	for _, s := range stored {
		items = append(items, item{
			DeltaRecord: s.Record,
			ID:          s.ID,
			ReceivedAt:  s.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"records": items,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
