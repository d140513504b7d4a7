// Package config defines the deltafeed configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then overridden by DELTAFEED_* environment variables and the
// legacy function-app variable names.
type Config struct {
	Redis        RedisConfig    `toml:"redis"`
	S3           S3Config       `toml:"s3"`
	Ingest       IngestConfig   `toml:"ingest"`
	Queue        QueueConfig    `toml:"queue"`
	Deletion     DeletionConfig `toml:"deletion"`
	Server       ServerConfig   `toml:"server"`
	Postgres     PostgresConfig `toml:"postgres"`
	Notify       NotifyConfig   `toml:"notify"`
	CacheBackend string         `toml:"cache_backend"`
	Mode         string         `toml:"mode"`
	LogLevel     string         `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters. DB holds the symbol values
// and is flushed on reset, so it must not be shared; claims and the record
// stream live in AuxDB.
type RedisConfig struct {
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	AuxDB         int      `toml:"aux_db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	DialTimeout   duration `toml:"dial_timeout"`
	ReadTimeout   duration `toml:"read_timeout"`
	UpdateRetries int      `toml:"update_retries"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig controls how event blobs are discovered and claimed.
type IngestConfig struct {
	Prefix        string   `toml:"prefix"`
	PollInterval  duration `toml:"poll_interval"`
	Workers       int      `toml:"workers"`
	ClaimTTL      duration `toml:"claim_ttl"`
	DeleteLocally bool     `toml:"delete_locally"`
}

// QueueConfig selects and configures the message sink.
type QueueConfig struct {
	// Backend is "redis" (stream) or "kafka".
	Backend          string   `toml:"backend"`
	Name             string   `toml:"name"`
	Brokers          []string `toml:"brokers"`
	ConnectionString string   `toml:"connection_string"`
	WriteTimeout     duration `toml:"write_timeout"`
	ConsumerGroup    string   `toml:"consumer_group"`
}

// DeletionConfig configures the external blob deletion service.
type DeletionConfig struct {
	URL          string   `toml:"url"`
	APIKey       string   `toml:"api_key"`
	APIKeyHeader string   `toml:"api_key_header"`
	Timeout      duration `toml:"timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// PostgresConfig holds the record-history database settings. The store is
// used only when DSN or Host is set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Configured reports whether a database was configured.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// NotifyConfig holds the alert webhook settings.
type NotifyConfig struct {
	WebhookURL string   `toml:"webhook_url"`
	Events     []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			AuxDB:         1,
			PoolSize:      20,
			MaxRetries:    3,
			DialTimeout:   duration{5 * time.Second},
			ReadTimeout:   duration{3 * time.Second},
			UpdateRetries: 16,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "symbolevents",
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			Prefix:       "symboleventsin/",
			PollInterval: duration{2 * time.Second},
			Workers:      8,
			ClaimTTL:     duration{5 * time.Minute},
		},
		Queue: QueueConfig{
			Backend:       "redis",
			Name:          "deltas",
			WriteTimeout:  duration{10 * time.Second},
			ConsumerGroup: "deltafeed-recorder",
		},
		Deletion: DeletionConfig{
			APIKeyHeader: "Ocp-Apim-Subscription-Key",
			Timeout:      duration{10 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Notify: NotifyConfig{
			Events: []string{"sink_failed", "delete_failed"},
		},
		CacheBackend: "redis",
		Mode:         "full",
		LogLevel:     "info",
	}
}

var validModes = map[string]bool{
	"watch":   true,
	"server":  true,
	"consume": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and returns every problem found in a
// single error.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, server, consume, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Cache
	switch c.CacheBackend {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.DB == c.Redis.AuxDB {
			errs = append(errs, "redis: db and aux_db must differ (db is flushed on reset)")
		}
		if c.Redis.DB < 0 || c.Redis.AuxDB < 0 {
			errs = append(errs, "redis: db numbers must be >= 0")
		}
	case "memory":
		if c.Queue.Backend == "redis" {
			errs = append(errs, "queue: backend redis requires cache_backend redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown cache_backend %q (valid: redis, memory)", c.CacheBackend))
	}

	ingesting := mode == "watch" || mode == "server" || mode == "full"

	// S3
	if ingesting {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Ingest
	if ingesting {
		if c.Ingest.Workers < 1 {
			errs = append(errs, "ingest: workers must be >= 1")
		}
		if c.Ingest.PollInterval.Duration <= 0 {
			errs = append(errs, "ingest: poll_interval must be > 0")
		}
		if c.Ingest.ClaimTTL.Duration <= 0 {
			errs = append(errs, "ingest: claim_ttl must be > 0")
		}
		if !c.Ingest.DeleteLocally && c.Deletion.URL == "" {
			errs = append(errs, "deletion: url is required unless ingest.delete_locally is set")
		}
	}

	// Queue
	switch c.Queue.Backend {
	case "redis":
	case "kafka":
		if len(c.Queue.Brokers) == 0 && c.Queue.ConnectionString == "" {
			errs = append(errs, "queue: kafka backend needs brokers or connection_string")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown queue backend %q (valid: redis, kafka)", c.Queue.Backend))
	}
	if c.Queue.Name == "" {
		errs = append(errs, "queue: name must not be empty")
	}
	if mode == "consume" && c.Queue.ConsumerGroup == "" {
		errs = append(errs, "queue: consumer_group must not be empty for mode consume")
	}

	// Postgres
	if mode == "consume" && !c.Postgres.Configured() {
		errs = append(errs, "postgres: dsn or host is required for mode consume")
	}
	if c.Postgres.Configured() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
