package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// BlobsHandler serves the blob deletion endpoint.
type BlobsHandler struct {
	deleter domain.DeletionNotifier
	logger  *slog.Logger
}

// NewBlobsHandler creates a BlobsHandler that deletes through deleter.
func NewBlobsHandler(deleter domain.DeletionNotifier, logger *slog.Logger) *BlobsHandler {
	return &BlobsHandler{deleter: deleter, logger: logHandler(logger, "blobs")}
}

// Delete removes the named blob from the ingest prefix.
// POST /api/blobs/delete
func (h *BlobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req blobRequest
	if err := decodeBody(r, &req); err != nil || req.BlobName == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"blobname\": \"...\"}")
		return
	}

	if err := h.deleter.RequestDeletion(r.Context(), req.BlobName); err != nil {
		h.logger.ErrorContext(r.Context(), "blob delete failed",
			slog.String("blob", req.BlobName),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "blob deleted", slog.String("blob", req.BlobName))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "deleted",
		"blobname": req.BlobName,
	})
}
