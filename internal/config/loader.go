package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NFTBOOK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus environment only.
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known NFTBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "NFTBOOK_CHAIN_ID")
	setStr(&cfg.Chain.RPCURL, "NFTBOOK_CHAIN_RPC_URL")
	setStr(&cfg.Chain.NativeCurrency, "NFTBOOK_CHAIN_NATIVE_CURRENCY")
	setStr(&cfg.Chain.WrappedCurrency, "NFTBOOK_CHAIN_WRAPPED_CURRENCY")
	setStr(&cfg.Chain.AMMRouter, "NFTBOOK_CHAIN_AMM_ROUTER")
	setStringSlice(&cfg.Chain.WhitelistedCurrencies, "NFTBOOK_CHAIN_WHITELISTED_CURRENCIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NFTBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "NFTBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTBOOK_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "NFTBOOK_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NFTBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NFTBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTBOOK_S3_FORCE_PATH_STYLE")

	// ── Orderbook ──
	setInt(&cfg.Orderbook.MaxTokenSetSize, "NFTBOOK_ORDERBOOK_MAX_TOKEN_SET_SIZE")
	setInt(&cfg.Orderbook.PoolConcurrency, "NFTBOOK_ORDERBOOK_POOL_CONCURRENCY")
	setInt(&cfg.Orderbook.TokenConcurrency, "NFTBOOK_ORDERBOOK_TOKEN_CONCURRENCY")
	setInt(&cfg.Orderbook.LadderDepth, "NFTBOOK_ORDERBOOK_LADDER_DEPTH")
	setStr(&cfg.Orderbook.EventStream, "NFTBOOK_ORDERBOOK_EVENT_STREAM")
	setInt(&cfg.Orderbook.EventBatchSize, "NFTBOOK_ORDERBOOK_EVENT_BATCH_SIZE")
	setDuration(&cfg.Orderbook.PollInterval, "NFTBOOK_ORDERBOOK_POLL_INTERVAL")
	setDuration(&cfg.Orderbook.CallTimeout, "NFTBOOK_ORDERBOOK_CALL_TIMEOUT")
	setDuration(&cfg.Orderbook.RoyaltyCacheTTL, "NFTBOOK_ORDERBOOK_ROYALTY_CACHE_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.CoingeckoURL, "NFTBOOK_ORACLE_COINGECKO_URL")
	setStr(&cfg.Oracle.DexScreenerURL, "NFTBOOK_ORACLE_DEXSCREENER_URL")
	setDuration(&cfg.Oracle.HTTPTimeout, "NFTBOOK_ORACLE_HTTP_TIMEOUT")
	setDuration(&cfg.Oracle.CacheTTL, "NFTBOOK_ORACLE_CACHE_TTL")
	setDuration(&cfg.Oracle.ResolveTimeout, "NFTBOOK_ORACLE_RESOLVE_TIMEOUT")
	setInt(&cfg.Oracle.UpstreamLimit, "NFTBOOK_ORACLE_UPSTREAM_LIMIT")
	setDuration(&cfg.Oracle.UpstreamWindow, "NFTBOOK_ORACLE_UPSTREAM_WINDOW")

	// ── Router ──
	setStr(&cfg.Router.FillerURL, "NFTBOOK_ROUTER_FILLER_URL")
	setStr(&cfg.Router.OrderAPIURL, "NFTBOOK_ROUTER_ORDER_API_URL")
	setInt(&cfg.Router.CandidateLimit, "NFTBOOK_ROUTER_CANDIDATE_LIMIT")
	setDuration(&cfg.Router.HTTPTimeout, "NFTBOOK_ROUTER_HTTP_TIMEOUT")

	// ── Queue ──
	setStr(&cfg.Queue.Stream, "NFTBOOK_QUEUE_STREAM")
	setStr(&cfg.Queue.Group, "NFTBOOK_QUEUE_GROUP")
	setStr(&cfg.Queue.Consumer, "NFTBOOK_QUEUE_CONSUMER")
	setInt(&cfg.Queue.MaxAttempts, "NFTBOOK_QUEUE_MAX_ATTEMPTS")
	setDuration(&cfg.Queue.InitialBackoff, "NFTBOOK_QUEUE_INITIAL_BACKOFF")
	setDuration(&cfg.Queue.MaxBackoff, "NFTBOOK_QUEUE_MAX_BACKOFF")
	setDuration(&cfg.Queue.DedupTTL, "NFTBOOK_QUEUE_DEDUP_TTL")
	setStr(&cfg.Queue.DeadLetterStream, "NFTBOOK_QUEUE_DEAD_LETTER_STREAM")
	setBool(&cfg.Queue.ArchiveDeadLetters, "NFTBOOK_QUEUE_ARCHIVE_DEAD_LETTERS")
	setInt(&cfg.Queue.BatchSize, "NFTBOOK_QUEUE_BATCH_SIZE")
	setDuration(&cfg.Queue.Block, "NFTBOOK_QUEUE_BLOCK")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTBOOK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NFTBOOK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "NFTBOOK_SERVER_RATE_LIMIT")
	setStringSlice(&cfg.Server.WSChannels, "NFTBOOK_SERVER_WS_CHANNELS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NFTBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NFTBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NFTBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NFTBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NFTBOOK_MODE")
	setStr(&cfg.LogLevel, "NFTBOOK_LOG_LEVEL")
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
