package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/nftbook/internal/blob/s3"
	"github.com/alanyoungcy/nftbook/internal/cache/redis"
	"github.com/alanyoungcy/nftbook/internal/chain"
	"github.com/alanyoungcy/nftbook/internal/config"
	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
	"github.com/alanyoungcy/nftbook/internal/notify"
	"github.com/alanyoungcy/nftbook/internal/oracle"
	"github.com/alanyoungcy/nftbook/internal/orderbook"
	"github.com/alanyoungcy/nftbook/internal/platform/fill"
	"github.com/alanyoungcy/nftbook/internal/queue"
	"github.com/alanyoungcy/nftbook/internal/router"
	"github.com/alanyoungcy/nftbook/internal/royalty"
	"github.com/alanyoungcy/nftbook/internal/server/handler"
	"github.com/alanyoungcy/nftbook/internal/service"
	"github.com/alanyoungcy/nftbook/internal/store/postgres"
)

// Dependencies bundles everything the modes run on. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OrderStore    domain.OrderStore
	TokenSetStore domain.TokenSetStore
	ListingStore  domain.ListingStore

	// Redis
	JobStream   *redis.JobStream
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Dead letters go to S3 when archiving is enabled.
	Archive domain.DeadLetterArchive

	Sources  *service.SourceRegistry
	Producer *queue.Producer
	Gateway  *service.OrderGateway
	Deriver  *orderbook.BatchDeriver
	Oracle   *oracle.Oracle
	Builder  *router.Builder

	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Pingers are probed by the readiness endpoint.
	Pingers map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsArchive returns true for modes that consume the job queue.
func needsArchive(mode string) bool {
	switch mode {
	case "worker", "full":
		return true
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
	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- PostgreSQL ---
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
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TokenSetStore = postgres.NewTokenSetStore(pool)
	deps.ListingStore = postgres.NewListingStore(pool)
	contractStore := postgres.NewContractStore(pool)
	royaltyStore := postgres.NewRoyaltyStore(pool)
	priceStore := postgres.NewUSDPriceStore(pool)
	currencyStore := postgres.NewCurrencyStore(pool)
	sourceStore := postgres.NewSourceStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.JobStream = redis.NewJobStream(redisClient, cfg.Redis.StreamMaxLen)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- S3 dead letter archive ---
	if cfg.Queue.ArchiveDeadLetters && needsArchive(mode) {
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
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
		deps.Archive = s3blob.NewDeadLetterArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Chain ---
	eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	closers = append(closers, eth.Close)
	deps.Pingers["chain"] = pingFunc(func(ctx context.Context) error {
		_, err := eth.BlockNumber(ctx)
		return err
	})

	callTimeout := cfg.Orderbook.CallTimeout.Duration

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	deps.Sources = service.NewSourceRegistry(sourceStore, redis.NewSourceCache(redisClient), logger)
	if err := deps.Sources.Reload(ctx); err != nil {
		return fail(fmt.Errorf("wire: load sources: %w", err))
	}

	deps.Producer = queue.NewProducer(deps.JobStream, cfg.Queue.DedupTTL.Duration, logger)
	deps.Gateway = service.NewOrderGateway(deps.OrderStore, deps.TokenSetStore, deps.Producer, deps.Metrics, logger)

	royalties := royalty.NewReconciler(
		royalty.NewCachedProvider(royaltyStore, redis.NewRoyaltyCache(redisClient), cfg.Orderbook.RoyaltyCacheTTL.Duration),
	)

	helper := chain.NewNFTXHelper(eth, cfg.Chain.AMMRouter, cfg.Chain.WrappedCurrency, callTimeout)
	nftx := orderbook.NewNFTXDeriver(helper, contractStore, royalties, deps.Sources, orderbook.DeriverConfig{
		LadderDepth:      cfg.Orderbook.LadderDepth,
		TokenConcurrency: cfg.Orderbook.TokenConcurrency,
		MaxTokenSetSize:  cfg.Orderbook.MaxTokenSetSize,
		NativeCurrency:   cfg.Chain.NativeCurrency,
		WrappedCurrency:  cfg.Chain.WrappedCurrency,
		CallTimeout:      callTimeout,
	}, deps.Metrics, logger)
	deps.Deriver = orderbook.NewBatchDeriver(nftx, deps.Gateway, cfg.Orderbook.PoolConcurrency, deps.Metrics, logger)

	deps.Oracle = wireOracle(cfg, redisClient, priceStore, currencyStore, deps.RateLimiter, deps.Metrics, logger)

	filler := fill.NewClient(cfg.Router.FillerURL, cfg.Router.OrderAPIURL, "", cfg.Router.HTTPTimeout.Duration)
	spenders := make(map[domain.OrderKind]string, len(cfg.Router.Spenders))
	for kind, addr := range cfg.Router.Spenders {
		spenders[domain.OrderKind(strings.ToLower(kind))] = strings.ToLower(addr)
	}
	deps.Builder = router.NewBuilder(
		deps.ListingStore,
		deps.Sources,
		deps.Oracle,
		chain.NewBalances(eth, callTimeout),
		filler,
		filler,
		nil,
		router.Config{
			NativeCurrency: cfg.Chain.NativeCurrency,
			Spenders:       spenders,
			CandidateLimit: cfg.Router.CandidateLimit,
			BalanceTimeout: callTimeout,
		},
		deps.Metrics,
		logger,
	)

	return deps, cleanup, nil
}

func wireOracle(
	cfg *config.Config,
	redisClient *redis.Client,
	store domain.USDPriceStore,
	currencyStore domain.CurrencyStore,
	limiter domain.RateLimiter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *oracle.Oracle {
	static := make([]domain.Currency, 0, len(cfg.Oracle.Currencies))
	for _, c := range cfg.Oracle.Currencies {
		static = append(static, domain.Currency{
			Contract:      c.Contract,
			Symbol:        c.Symbol,
			Name:          c.Symbol,
			Decimals:      c.Decimals,
			CoingeckoID:   c.CoingeckoID,
			DexScreenerID: c.DexScreenerID,
		})
	}

	upstreams := []domain.PriceUpstream{
		oracle.NewWhitelistUpstream(cfg.Chain.WhitelistedCurrencies),
	}
	if cfg.Oracle.CoingeckoURL != "" {
		upstreams = append(upstreams, oracle.NewCoingeckoUpstream(cfg.Oracle.CoingeckoURL, cfg.Oracle.HTTPTimeout.Duration))
	}
	if cfg.Oracle.DexScreenerURL != "" {
		upstreams = append(upstreams, oracle.NewDexScreenerUpstream(cfg.Oracle.DexScreenerURL, cfg.Oracle.HTTPTimeout.Duration))
	}

	return oracle.New(
		oracle.NewMemoryCache(),
		redis.NewUSDPriceCache(redisClient),
		store,
		oracle.NewCurrencies(static, currencyStore, cfg.Chain.NativeCurrency),
		upstreams,
		limiter,
		oracle.Config{
			NativeCurrency:  cfg.Chain.NativeCurrency,
			WrappedCurrency: cfg.Chain.WrappedCurrency,
			CacheTTL:        cfg.Oracle.CacheTTL.Duration,
			UpstreamLimit:   cfg.Oracle.UpstreamLimit,
			UpstreamWindow:  cfg.Oracle.UpstreamWindow.Duration,
			ResolveTimeout:  cfg.Oracle.ResolveTimeout.Duration,
		},
		m,
		logger,
	)
}
