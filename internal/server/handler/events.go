package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// BlobProcessor ingests one blob by its full path. *pipeline.Watcher
// satisfies it.
type BlobProcessor interface {
	Process(ctx context.Context, path string) (domain.DeltaRecord, error)
}

// BlobPather maps a blob name to its full path. *pipeline.Ingester
// satisfies it.
type BlobPather interface {
	BlobPath(name string) string
}

// EventsHandler accepts blob-created notifications.
type EventsHandler struct {
	processor BlobProcessor
	paths     BlobPather
	logger    *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(processor BlobProcessor, paths BlobPather, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{processor: processor, paths: paths, logger: logHandler(logger, "events")}
}

// bucketNotification covers S3 and MinIO event notifications and the
// single-blob {"blobname": ...} form.
type bucketNotification struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
	BlobName string `json:"blobname"`
}

type eventOutcome struct {
	Blob   string  `json:"blob"`
	Status string  `json:"status"`
	Symbol string  `json:"symbol,omitempty"`
	Delta  *string `json:"delta,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Ingest processes every blob referenced by the notification and reports a
// per-blob outcome.
// POST /api/events
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var n bucketNotification
	if err := decodeBody(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	var paths []string
	for _, rec := range n.Records {
		key := rec.S3.Object.Key
		// Notification keys are URL-encoded.
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if key != "" {
			paths = append(paths, key)
		}
	}
	if n.BlobName != "" {
		paths = append(paths, h.paths.BlobPath(n.BlobName))
	}
	if len(paths) == 0 {
		writeError(w, http.StatusBadRequest, "notification references no blobs")
		return
	}

	results := make([]eventOutcome, 0, len(paths))
	for _, p := range paths {
		out := eventOutcome{Blob: p, Status: "processed"}
		rec, err := h.processor.Process(r.Context(), p)
		switch {
		case err == nil:
			out.Symbol = rec.Symbol
			out.Delta = rec.Delta
		case errors.Is(err, domain.ErrLockHeld):
			out.Status = "skipped"
		default:
			out.Status = "failed"
			out.Error = err.Error()
			h.logger.WarnContext(r.Context(), "event ingest failed",
				slog.String("blob", p),
				slog.String("error", err.Error()),
			)
		}
		results = append(results, out)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}
