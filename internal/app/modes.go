package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/deltafeed/internal/pipeline"
	"github.com/alanyoungcy/deltafeed/internal/server"
	"github.com/alanyoungcy/deltafeed/internal/server/handler"
)

// WatchMode sweeps the bucket prefix on every poll interval. The HTTP server
// runs alongside when server.enabled is set.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	watcher := a.newWatcher(deps)

	g.Go(func() error {
		return watcher.RunLoop(ctx, a.cfg.Ingest.PollInterval.Duration)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, watcher)
	}

	return g.Wait()
}

// ServerMode serves the HTTP API only. Blobs are ingested when a notification
// arrives on POST /api/events.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newWatcher(deps))

	return g.Wait()
}

// ConsumeMode reads delta records back from the queue and stores them in
// PostgreSQL.
func (a *App) ConsumeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting consume mode")

	if deps.Source == nil || deps.Records == nil {
		return fmt.Errorf("app: consume mode needs a queue source and postgres")
	}

	g, ctx := errgroup.WithContext(ctx)
	consumer := pipeline.NewConsumer(deps.Source, deps.Records, deps.Metrics, a.logger)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// FullMode runs the watcher and the HTTP server, plus the record consumer
// when PostgreSQL is configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	watcher := a.newWatcher(deps)

	g.Go(func() error {
		return watcher.RunLoop(ctx, a.cfg.Ingest.PollInterval.Duration)
	})

	if deps.Source != nil && deps.Records != nil {
		consumer := pipeline.NewConsumer(deps.Source, deps.Records, deps.Metrics, a.logger)
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "postgres not configured, record consumer disabled")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, watcher)
	}

	return g.Wait()
}

// newWatcher builds the dispatch chain: engine, dispatcher, ingester and the
// claiming watcher on top.
func (a *App) newWatcher(deps *Dependencies) *pipeline.Watcher {
	dispatcher := pipeline.NewDispatcher(deps.Engine, deps.Sink, deps.Deleter, a.logger,
		pipeline.WithAlerter(deps.Notifier),
		pipeline.WithMetrics(deps.Metrics),
	)
	ingester := pipeline.NewIngester(deps.Blobs, dispatcher, a.cfg.Ingest.Prefix, a.logger)
	return pipeline.NewWatcher(deps.Blobs, ingester, deps.Locks, pipeline.WatcherConfig{
		Workers:  a.cfg.Ingest.Workers,
		ClaimTTL: a.cfg.Ingest.ClaimTTL.Duration,
	}, a.logger, pipeline.WithProcessedIndex(deps.Processed))
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. The
// event route is registered only when watcher is non-nil. The server is shut
// down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, watcher *pipeline.Watcher) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Symbols: handler.NewSymbolsHandler(deps.Values, deps.Records, a.logger),
		Cache:   handler.NewCacheHandler(deps.Engine, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if watcher != nil {
		handlers.Events = handler.NewEventsHandler(watcher, watcher.Ingester(), a.logger)
	}
	if deps.Blobs != nil {
		// The endpoint is the deletion service itself, so it always deletes
		// from the bucket rather than forwarding.
		handlers.Blobs = handler.NewBlobsHandler(pipeline.NewDirectDeleter(deps.Blobs, a.cfg.Ingest.Prefix), a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
