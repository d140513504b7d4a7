package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/deltafeed/internal/cache/memory"
	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// errAlreadyProcessed marks a listed blob whose current version was already
// ingested.
var errAlreadyProcessed = errors.New("pipeline: blob already processed")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Workers  int
	ClaimTTL time.Duration
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Listed    int
	Processed int
	Skipped   int
	Failed    int
}

// WatcherOption configures optional Watcher behaviour.
type WatcherOption func(*Watcher)

// WithProcessedIndex shares the record of ingested blobs between replicas.
// The default index lives in process.
func WithProcessedIndex(idx domain.ProcessedIndex) WatcherOption {
	return func(w *Watcher) { w.processed = idx }
}

// Watcher polls the ingest prefix and ingests every blob it finds. Each blob
// is claimed through the LockManager first so several replicas can poll the
// same bucket, and every ingested version is recorded in the ProcessedIndex
// so a blob left behind by a failed deletion is not ingested again.
type Watcher struct {
	blobs     domain.BlobReader
	ingester  *Ingester
	locks     domain.LockManager
	processed domain.ProcessedIndex
	workers   int
	claimTTL  time.Duration
	logger    *slog.Logger
}

// NewWatcher creates a Watcher. locks may be nil for a single instance.
func NewWatcher(blobs domain.BlobReader, ingester *Ingester, locks domain.LockManager, cfg WatcherConfig, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	w := &Watcher{
		blobs:     blobs,
		ingester:  ingester,
		locks:     locks,
		processed: memory.NewProcessedIndex(),
		workers:   workers,
		claimTTL:  ttl,
		logger:    logger.With(slog.String("component", "watcher")),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Sweep lists the prefix once and ingests every blob not yet processed with
// bounded concurrency. Per-blob failures are logged and counted; only a
// listing failure is returned.
func (w *Watcher) Sweep(ctx context.Context) (SweepStats, error) {
	started := time.Now()
	infos, err := w.blobs.List(ctx, w.ingester.Prefix())
	if err != nil {
		return SweepStats{}, fmt.Errorf("pipeline: sweep: %w", err)
	}
	w.prune(ctx, infos, started)

	var processed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for _, info := range infos {
		path, version := info.Path, info.Version()
		g.Go(func() error {
			switch _, err := w.process(gctx, path, version); {
			case err == nil:
				processed.Add(1)
			case errors.Is(err, domain.ErrLockHeld), errors.Is(err, errAlreadyProcessed):
				skipped.Add(1)
			default:
				failed.Add(1)
				w.logger.ErrorContext(gctx, "blob processing failed",
					slog.String("blob", path),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepStats{
		Listed:    len(infos),
		Processed: int(processed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

// Process claims and ingests one blob named by a notification. The claim is
// kept after success or a malformed event, so the blob is not picked up again
// while its deletion is pending. Other failures release it for the next
// attempt. It returns domain.ErrLockHeld when another worker owns the blob.
func (w *Watcher) Process(ctx context.Context, path string) (domain.DeltaRecord, error) {
	return w.process(ctx, path, "")
}

// process ingests path. version is the listed version, or empty when the
// blob was not listed; only listed blobs are checked against the index.
func (w *Watcher) process(ctx context.Context, path, version string) (domain.DeltaRecord, error) {
	if version != "" && w.alreadyProcessed(ctx, path, version) {
		return domain.DeltaRecord{}, errAlreadyProcessed
	}

	release := func() {}
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, "blob:"+path, w.claimTTL)
		if err != nil {
			return domain.DeltaRecord{}, err
		}
		release = unlock

		// Another replica may have finished between the check and the claim.
		if version != "" && w.alreadyProcessed(ctx, path, version) {
			release()
			return domain.DeltaRecord{}, errAlreadyProcessed
		}
	}

	rec, err := w.ingester.Ingest(ctx, path)
	if err != nil && !errors.Is(err, domain.ErrMalformedInput) {
		release()
		return rec, err
	}
	if merr := w.processed.Mark(ctx, path, version); merr != nil {
		w.logger.WarnContext(ctx, "failed to record processed blob",
			slog.String("blob", path),
			slog.String("error", merr.Error()),
		)
	}
	return rec, err
}

// alreadyProcessed reports whether version of path was ingested before. A
// marker without a version came from a notification and adopts the listed
// version. Index failures fall back to the claim alone.
func (w *Watcher) alreadyProcessed(ctx context.Context, path, version string) bool {
	seen, found, err := w.processed.Lookup(ctx, path)
	if err != nil {
		w.logger.WarnContext(ctx, "processed index lookup failed",
			slog.String("blob", path),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !found {
		return false
	}
	if seen == "" {
		if err := w.processed.Mark(ctx, path, version); err != nil {
			w.logger.WarnContext(ctx, "failed to record processed blob",
				slog.String("blob", path),
				slog.String("error", err.Error()),
			)
		}
		return true
	}
	return seen == version
}

// prune forgets blobs that are no longer listed. Markers written after the
// listing started are kept.
func (w *Watcher) prune(ctx context.Context, infos []domain.BlobInfo, listedAt time.Time) {
	keep := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		keep[info.Path] = struct{}{}
	}
	n, err := w.processed.Prune(ctx, w.ingester.Prefix(), keep, listedAt)
	if err != nil {
		w.logger.WarnContext(ctx, "processed index prune failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		w.logger.DebugContext(ctx, "forgot deleted blobs", slog.Int("count", n))
	}
}

// Ingester returns the ingester the watcher feeds.
func (w *Watcher) Ingester() *Ingester {
	return w.ingester
}

// RunLoop sweeps on a repeating interval until the context is cancelled.
func (w *Watcher) RunLoop(ctx context.Context, interval time.Duration) error {
	w.logger.Info("blob watcher started",
		slog.String("prefix", w.ingester.Prefix()),
		slog.Duration("interval", interval),
		slog.Int("workers", w.workers),
	)

	// Sweep immediately on start.
	w.sweepAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("blob watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *Watcher) sweepAndLog(ctx context.Context) {
	stats, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}
	if stats.Listed == 0 {
		return
	}
	w.logger.Info("sweep complete",
		slog.Int("listed", stats.Listed),
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
	)
}
