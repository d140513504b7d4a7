package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	s3blob "github.com/alanyoungcy/deltafeed/internal/blob/s3"
	"github.com/alanyoungcy/deltafeed/internal/cache/memory"
	"github.com/alanyoungcy/deltafeed/internal/cache/redis"
	"github.com/alanyoungcy/deltafeed/internal/config"
	"github.com/alanyoungcy/deltafeed/internal/delta"
	"github.com/alanyoungcy/deltafeed/internal/domain"
	"github.com/alanyoungcy/deltafeed/internal/metrics"
	"github.com/alanyoungcy/deltafeed/internal/notify"
	"github.com/alanyoungcy/deltafeed/internal/pipeline"
	"github.com/alanyoungcy/deltafeed/internal/queue/kafka"
	"github.com/alanyoungcy/deltafeed/internal/server/handler"
	"github.com/alanyoungcy/deltafeed/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Cache
	Values    domain.ValueStore
	Locks     domain.LockManager
	Processed domain.ProcessedIndex
	Engine    *delta.Engine

	// Queue
	Sink   domain.MessageSink
	Source domain.MessageSource

	// Blob storage
	Blobs *s3blob.Store

	// Deletion of processed blobs: the external service, or the bucket
	// itself when ingest.delete_locally is set.
	Deleter domain.DeletionNotifier

	// Record history, nil when Postgres is not configured.
	Records domain.DeltaRecordStore

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Health lists the dependencies reported by GET /api/health.
	Health map[string]handler.Pinger
}

// pingFunc adapts a function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsBlobs returns true for modes that read event blobs.
func needsBlobs(mode string) bool {
	switch mode {
	case "watch", "server", "full":
		return true
	default:
		return false
	}
}

// needsSource returns true for modes that run the record consumer.
func needsSource(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "consume":
		return true
	case "full":
		return cfg.Postgres.Configured()
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.Pinger),
	}

	// --- Cache: value store, claims and (optionally) the record stream ---
	var aux *redis.Client
	switch cfg.CacheBackend {
	case "memory":
		store := memory.New()
		deps.Values = store
		deps.Locks = memory.NewLockManager()
		deps.Processed = memory.NewProcessedIndex()
		deps.Health["cache"] = store
	default:
		values, err := newRedisClient(ctx, cfg, cfg.Redis.DB, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: redis values: %w", err))
		}
		closers = append(closers, func() { _ = values.Close() })

		aux, err = newRedisClient(ctx, cfg, cfg.Redis.AuxDB, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: redis aux: %w", err))
		}
		closers = append(closers, func() { _ = aux.Close() })

		deps.Values = redis.NewValueStore(values, cfg.Redis.UpdateRetries)
		deps.Locks = redis.NewLockManager(aux, "deltafeed")
		deps.Processed = redis.NewProcessedIndex(aux, "deltafeed")
		deps.Health["cache"] = values
	}
	deps.Engine = delta.NewEngine(deps.Values, logger)

	// --- Queue ---
	switch cfg.Queue.Backend {
	case "kafka":
		ep, err := kafka.ResolveEndpoint(cfg.Queue.Brokers, cfg.Queue.ConnectionString)
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		sink, err := kafka.NewSink(kafka.SinkConfig{
			Endpoint:     ep,
			Topic:        cfg.Queue.Name,
			WriteTimeout: cfg.Queue.WriteTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kafka sink: %w", err))
		}
		closers = append(closers, func() { _ = sink.Close() })
		deps.Sink = sink

		if needsSource(cfg) {
			src, err := kafka.NewSource(kafka.SourceConfig{
				Endpoint: ep,
				Topic:    cfg.Queue.Name,
				GroupID:  cfg.Queue.ConsumerGroup,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: kafka source: %w", err))
			}
			closers = append(closers, func() { _ = src.Close() })
			deps.Source = src
		}
	default:
		if aux == nil {
			return fail(fmt.Errorf("wire: queue backend redis needs the redis cache backend"))
		}
		deps.Sink = redis.NewStreamSink(aux, cfg.Queue.Name, 0)

		if needsSource(cfg) {
			src, err := redis.NewStreamSource(ctx, aux, redis.StreamSourceConfig{
				Stream:   cfg.Queue.Name,
				Group:    cfg.Queue.ConsumerGroup,
				Consumer: consumerName(),
			})
			if err != nil {
				return fail(fmt.Errorf("wire: redis stream source: %w", err))
			}
			deps.Source = src
		}
	}

	// --- S3 blob storage ---
	if needsBlobs(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blobs = s3blob.NewStore(s3Client)
		deps.Health["blobs"] = pingFunc(s3Client.Health)
	}

	// --- Deletion ---
	if needsBlobs(mode) {
		if cfg.Ingest.DeleteLocally {
			deps.Deleter = pipeline.NewDirectDeleter(deps.Blobs, cfg.Ingest.Prefix)
		} else {
			dc, err := notify.NewDeletionClient(notify.DeletionConfig{
				URL:          cfg.Deletion.URL,
				APIKey:       cfg.Deletion.APIKey,
				APIKeyHeader: cfg.Deletion.APIKeyHeader,
				Timeout:      cfg.Deletion.Timeout.Duration,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: deletion client: %w", err))
			}
			deps.Deleter = dc
		}
	}

	// --- PostgreSQL record history ---
	if cfg.Postgres.Configured() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Records = postgres.NewDeltaStore(pgClient.Pool())
		deps.Health["postgres"] = pgClient
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func newRedisClient(ctx context.Context, cfg *config.Config, db int, logger *slog.Logger) (*redis.Client, error) {
	c, pong, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          db,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		TLSEnabled:  cfg.Redis.TLSEnabled,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		ReadTimeout: cfg.Redis.ReadTimeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("redis connected",
		slog.String("addr", cfg.Redis.Addr),
		slog.Int("db", db),
		slog.String("ping", pong),
	)
	return c, nil
}

// consumerName identifies this replica within the stream consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "deltafeed"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
