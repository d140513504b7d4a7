package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// MaxEventSize bounds how much of a blob body is read.
const MaxEventSize = 1 << 20

// Ingester reads one event blob, decodes it and hands it to the Dispatcher.
// The origin identifier is the blob path relative to the ingest prefix.
type Ingester struct {
	blobs      domain.BlobReader
	dispatcher *Dispatcher
	prefix     string
	logger     *slog.Logger
}

// NewIngester creates an Ingester for blobs under prefix.
func NewIngester(blobs domain.BlobReader, dispatcher *Dispatcher, prefix string, logger *slog.Logger) *Ingester {
	return &Ingester{
		blobs:      blobs,
		dispatcher: dispatcher,
		prefix:     prefix,
		logger:     logger.With(slog.String("component", "ingester")),
	}
}

// Prefix returns the ingest prefix.
func (i *Ingester) Prefix() string {
	return i.prefix
}

// BlobName returns the origin identifier for a full blob path.
func (i *Ingester) BlobName(path string) string {
	return strings.TrimPrefix(path, i.prefix)
}

// BlobPath returns the full path for a name relative to the prefix. Names
// already carrying the prefix are returned unchanged.
func (i *Ingester) BlobPath(name string) string {
	if strings.HasPrefix(name, i.prefix) {
		return name
	}
	return i.prefix + name
}

// Ingest processes the blob at path.
func (i *Ingester) Ingest(ctx context.Context, path string) (domain.DeltaRecord, error) {
	name := i.BlobName(path)

	rc, err := i.blobs.Get(ctx, path)
	if err != nil {
		return domain.DeltaRecord{}, fmt.Errorf("pipeline: read blob %s: %w", path, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, MaxEventSize+1))
	rc.Close()
	if err != nil {
		return domain.DeltaRecord{}, fmt.Errorf("pipeline: read blob %s: %w", path, err)
	}
	if len(data) > MaxEventSize {
		err := fmt.Errorf("pipeline: blob %s exceeds %d bytes: %w", path, MaxEventSize, domain.ErrMalformedInput)
		i.dispatcher.RecordMalformed(ctx, name, err)
		return domain.DeltaRecord{}, err
	}

	ev, err := DecodeSymbolEvent(data)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			i.dispatcher.RecordMalformed(ctx, name, err)
		}
		return domain.DeltaRecord{}, fmt.Errorf("pipeline: blob %s: %w", path, err)
	}

	i.logger.DebugContext(ctx, "event decoded",
		slog.String("blob", name),
		slog.String("symbol", ev.Symbol),
	)
	return i.dispatcher.Dispatch(ctx, ev, name)
}
