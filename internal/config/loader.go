package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults and applies environment overrides. An empty path skips
// the file. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	applyLegacyAliases(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads DELTAFEED_* environment variables and overwrites
// the corresponding Config fields when a variable is set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DELTAFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DELTAFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DELTAFEED_REDIS_DB")
	setInt(&cfg.Redis.AuxDB, "DELTAFEED_REDIS_AUX_DB")
	setInt(&cfg.Redis.PoolSize, "DELTAFEED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DELTAFEED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DELTAFEED_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DialTimeout, "DELTAFEED_REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.ReadTimeout, "DELTAFEED_REDIS_READ_TIMEOUT")
	setInt(&cfg.Redis.UpdateRetries, "DELTAFEED_REDIS_UPDATE_RETRIES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DELTAFEED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DELTAFEED_S3_REGION")
	setStr(&cfg.S3.Bucket, "DELTAFEED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DELTAFEED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DELTAFEED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DELTAFEED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DELTAFEED_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setStr(&cfg.Ingest.Prefix, "DELTAFEED_INGEST_PREFIX")
	setDuration(&cfg.Ingest.PollInterval, "DELTAFEED_INGEST_POLL_INTERVAL")
	setInt(&cfg.Ingest.Workers, "DELTAFEED_INGEST_WORKERS")
	setDuration(&cfg.Ingest.ClaimTTL, "DELTAFEED_INGEST_CLAIM_TTL")
	setBool(&cfg.Ingest.DeleteLocally, "DELTAFEED_INGEST_DELETE_LOCALLY")

	// ── Queue ──
	setStr(&cfg.Queue.Backend, "DELTAFEED_QUEUE_BACKEND")
	setStr(&cfg.Queue.Name, "DELTAFEED_QUEUE_NAME")
	setStringSlice(&cfg.Queue.Brokers, "DELTAFEED_QUEUE_BROKERS")
	setStr(&cfg.Queue.ConnectionString, "DELTAFEED_QUEUE_CONNECTION_STRING")
	setDuration(&cfg.Queue.WriteTimeout, "DELTAFEED_QUEUE_WRITE_TIMEOUT")
	setStr(&cfg.Queue.ConsumerGroup, "DELTAFEED_QUEUE_CONSUMER_GROUP")

	// ── Deletion ──
	setStr(&cfg.Deletion.URL, "DELTAFEED_DELETION_URL")
	setStr(&cfg.Deletion.APIKey, "DELTAFEED_DELETION_API_KEY")
	setStr(&cfg.Deletion.APIKeyHeader, "DELTAFEED_DELETION_API_KEY_HEADER")
	setDuration(&cfg.Deletion.Timeout, "DELTAFEED_DELETION_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DELTAFEED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DELTAFEED_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DELTAFEED_SERVER_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DELTAFEED_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DELTAFEED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DELTAFEED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DELTAFEED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DELTAFEED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DELTAFEED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DELTAFEED_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DELTAFEED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DELTAFEED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DELTAFEED_POSTGRES_RUN_MIGRATIONS")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "DELTAFEED_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DELTAFEED_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.CacheBackend, "DELTAFEED_CACHE_BACKEND")
	setStr(&cfg.Mode, "DELTAFEED_MODE")
	setStr(&cfg.LogLevel, "DELTAFEED_LOG_LEVEL")
}

// legacyRedisPort is the TLS port of the managed Redis the legacy variables
// point at.
const legacyRedisPort = "6380"

// applyLegacyAliases maps the environment names used by the function-app
// deployment onto the config. They take precedence when set.
func applyLegacyAliases(cfg *Config) {
	if host := os.Getenv("REDISCACHEHOSTNAME"); host != "" {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, legacyRedisPort)
		}
		cfg.Redis.Addr = host
		cfg.Redis.TLSEnabled = true
	}
	setStr(&cfg.Redis.Password, "REDISCACHEKEY")
	setStr(&cfg.Queue.ConnectionString, "SB_CON_STR")
	setStr(&cfg.Queue.Name, "SB_QNAME")
	setStr(&cfg.Deletion.URL, "DELETEBLOB_URL")
	setStr(&cfg.Deletion.APIKey, "APIM_API_KEY")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
