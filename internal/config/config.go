// Package config defines the top-level configuration for the order book
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTBOOK_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Orderbook OrderbookConfig `toml:"orderbook"`
	Oracle    OracleConfig    `toml:"oracle"`
	Router    RouterConfig    `toml:"router"`
	Queue     QueueConfig     `toml:"queue"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the network parameters.
type ChainConfig struct {
	ChainID int    `toml:"chain_id"`
	RPCURL  string `toml:"rpc_url"`
	// NativeCurrency is the pseudo-address of the native asset.
	NativeCurrency  string `toml:"native_currency"`
	WrappedCurrency string `toml:"wrapped_currency"`
	// AMMRouter is the Uniswap-v2 style router NFTX vault tokens trade on.
	AMMRouter string `toml:"amm_router"`
	// WhitelistedCurrencies are pegged 1:1 to USD.
	WhitelistedCurrencies []string `toml:"whitelisted_currencies"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters used for the
// dead-letter archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OrderbookConfig holds pool-order derivation parameters.
type OrderbookConfig struct {
	MaxTokenSetSize  int      `toml:"max_token_set_size"`
	PoolConcurrency  int      `toml:"pool_concurrency"`
	TokenConcurrency int      `toml:"token_concurrency"`
	LadderDepth      int      `toml:"ladder_depth"`
	EventStream      string   `toml:"event_stream"`
	EventBatchSize   int      `toml:"event_batch_size"`
	PollInterval     duration `toml:"poll_interval"`
	CallTimeout      duration `toml:"call_timeout"`
	RoyaltyCacheTTL  duration `toml:"royalty_cache_ttl"`
}

// CurrencyConfig registers upstream price ids for a currency.
type CurrencyConfig struct {
	Contract      string `toml:"contract"`
	Symbol        string `toml:"symbol"`
	Decimals      int    `toml:"decimals"`
	CoingeckoID   string `toml:"coingecko_id"`
	DexScreenerID string `toml:"dexscreener_id"`
}

// OracleConfig holds price oracle parameters.
type OracleConfig struct {
	CoingeckoURL   string           `toml:"coingecko_url"`
	DexScreenerURL string           `toml:"dexscreener_url"`
	HTTPTimeout    duration         `toml:"http_timeout"`
	CacheTTL       duration         `toml:"cache_ttl"`
	UpstreamLimit  int              `toml:"upstream_limit"`
	UpstreamWindow duration         `toml:"upstream_window"`
	ResolveTimeout duration         `toml:"resolve_timeout"`
	Currencies     []CurrencyConfig `toml:"currencies"`
}

// RouterConfig holds execution path builder parameters.
type RouterConfig struct {
	FillerURL   string `toml:"filler_url"`
	OrderAPIURL string `toml:"order_api_url"`
	// Spenders maps an order kind to the contract that must be approved to
	// pull ERC20 payments for it.
	Spenders       map[string]string `toml:"spenders"`
	CandidateLimit int               `toml:"candidate_limit"`
	HTTPTimeout    duration          `toml:"http_timeout"`
}

// QueueConfig holds task queue parameters.
type QueueConfig struct {
	Stream             string   `toml:"stream"`
	Group              string   `toml:"group"`
	Consumer           string   `toml:"consumer"`
	MaxAttempts        int      `toml:"max_attempts"`
	InitialBackoff     duration `toml:"initial_backoff"`
	MaxBackoff         duration `toml:"max_backoff"`
	DedupTTL           duration `toml:"dedup_ttl"`
	DeadLetterStream   string   `toml:"dead_letter_stream"`
	ArchiveDeadLetters bool     `toml:"archive_dead_letters"`
	BatchSize          int      `toml:"batch_size"`
	Block              duration `toml:"block"`
}

// ServerConfig holds the ops HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the API routes; empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is the per-client request budget per minute; 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	WSChannels []string `toml:"ws_channels"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const (
	nativeCurrency  = "0x0000000000000000000000000000000000000000"
	mainnetWeth     = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	mainnetUSDC     = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	mainnetSushi    = "0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f"
	seaportConduit  = "0x1e0049783f008a0085193e00003d00cd54003c71"
)

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:               1,
			RPCURL:                "http://localhost:8545",
			NativeCurrency:        nativeCurrency,
			WrappedCurrency:       mainnetWeth,
			AMMRouter:             mainnetSushi,
			WhitelistedCurrencies: []string{mainnetUSDC},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftbook",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftbook-dead-letters",
			ForcePathStyle: true,
		},
		Orderbook: OrderbookConfig{
			MaxTokenSetSize:  100000,
			PoolConcurrency:  20,
			TokenConcurrency: 50,
			LadderDepth:      10,
			EventStream:      "pool-events",
			EventBatchSize:   100,
			PollInterval:     duration{time.Second},
			CallTimeout:      duration{15 * time.Second},
			RoyaltyCacheTTL:  duration{10 * time.Minute},
		},
		Oracle: OracleConfig{
			CoingeckoURL:   "https://api.coingecko.com/api/v3",
			DexScreenerURL: "https://api.dexscreener.com",
			HTTPTimeout:    duration{10 * time.Second},
			CacheTTL:       duration{24 * time.Hour},
			UpstreamLimit:  20,
			UpstreamWindow: duration{time.Minute},
			ResolveTimeout: duration{30 * time.Second},
			Currencies: []CurrencyConfig{
				{Contract: nativeCurrency, Symbol: "ETH", Decimals: 18, CoingeckoID: "ethereum"},
				{Contract: mainnetWeth, Symbol: "WETH", Decimals: 18, CoingeckoID: "weth"},
				{Contract: mainnetUSDC, Symbol: "USDC", Decimals: 6, CoingeckoID: "usd-coin"},
			},
		},
		Router: RouterConfig{
			FillerURL:   "http://localhost:3001",
			OrderAPIURL: "http://localhost:3000",
			Spenders: map[string]string{
				"seaport": seaportConduit,
			},
			CandidateLimit: 1000,
			HTTPTimeout:    duration{20 * time.Second},
		},
		Queue: QueueConfig{
			Stream:           "jobs:order-updates-by-id",
			Group:            "order-updates",
			Consumer:         "nftbook-1",
			MaxAttempts:      5,
			InitialBackoff:   duration{500 * time.Millisecond},
			MaxBackoff:       duration{30 * time.Second},
			DedupTTL:         duration{time.Hour},
			DeadLetterStream: "jobs:dead-letter",
			BatchSize:        50,
			Block:            duration{2 * time.Second},
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateLimit:  600,
			WSChannels: []string{"orders"},
		},
		Notify: NotifyConfig{
			Events: []string{"cancel"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"derive": true,
	"worker": true,
	"server": true,
	"quote":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: derive, worker, server, quote, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	for name, addr := range map[string]string{
		"native_currency":  c.Chain.NativeCurrency,
		"wrapped_currency": c.Chain.WrappedCurrency,
		"amm_router":       c.Chain.AMMRouter,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not an address", name, addr))
		}
	}
	for _, addr := range c.Chain.WhitelistedCurrencies {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: whitelisted currency %q is not an address", addr))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Orderbook
	if c.Orderbook.MaxTokenSetSize < 1 {
		errs = append(errs, "orderbook: max_token_set_size must be >= 1")
	}
	if c.Orderbook.PoolConcurrency < 1 || c.Orderbook.TokenConcurrency < 1 {
		errs = append(errs, "orderbook: pool_concurrency and token_concurrency must be >= 1")
	}
	if c.Orderbook.LadderDepth < 1 {
		errs = append(errs, "orderbook: ladder_depth must be >= 1")
	}
	if c.Orderbook.EventStream == "" {
		errs = append(errs, "orderbook: event_stream must not be empty")
	}

	// Oracle
	for _, cur := range c.Oracle.Currencies {
		if !common.IsHexAddress(cur.Contract) {
			errs = append(errs, fmt.Sprintf("oracle: currency contract %q is not an address", cur.Contract))
		}
		if cur.Decimals < 0 || cur.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("oracle: currency %s decimals out of range", cur.Contract))
		}
	}
	if c.Oracle.HTTPTimeout.Duration <= 0 {
		errs = append(errs, "oracle: http_timeout must be > 0")
	}

	// Router
	for kind, spender := range c.Router.Spenders {
		if !common.IsHexAddress(spender) {
			errs = append(errs, fmt.Sprintf("router: spender for %s %q is not an address", kind, spender))
		}
	}
	if c.Router.CandidateLimit < 1 {
		errs = append(errs, "router: candidate_limit must be >= 1")
	}

	// Queue
	if c.Queue.Stream == "" || c.Queue.Group == "" {
		errs = append(errs, "queue: stream and group must not be empty")
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue: max_attempts must be >= 1")
	}
	if c.Queue.ArchiveDeadLetters && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must be set when queue.archive_dead_letters is enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
