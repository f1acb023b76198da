// Package oracle resolves USD unit prices of currencies per day through a
// memory tier, a shared Redis tier, the usd_prices table and finally the
// configured upstream providers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
)

// nativeUnit is one whole native token in wei.
var nativeUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(nativeDecimals), nil)

// Options tune a conversion.
type Options struct {
	// OnlyUSD skips the native (or target currency) conversion.
	OnlyUSD bool
	// AcceptStale accepts a row from an earlier day without asking upstream.
	AcceptStale bool
}

// Config configures an Oracle.
type Config struct {
	NativeCurrency  string
	WrappedCurrency string
	// CacheTTL is the expiry of the shared Redis tier.
	CacheTTL time.Duration
	// UpstreamLimit calls per UpstreamWindow are allowed per upstream
	// across all processes. Zero disables throttling.
	UpstreamLimit  int
	UpstreamWindow time.Duration
	// ResolveTimeout bounds a shared lookup. Defaults to 30s.
	ResolveTimeout time.Duration
}

const defaultResolveTimeout = 30 * time.Second

// Oracle is the tiered USD price cache.
type Oracle struct {
	memory     *MemoryCache
	shared     domain.USDPriceCache
	store      domain.USDPriceStore
	currencies *Currencies
	upstreams  []domain.PriceUpstream
	limiter    domain.RateLimiter
	cfg        Config
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an Oracle. shared and limiter may be nil.
func New(
	memory *MemoryCache,
	shared domain.USDPriceCache,
	store domain.USDPriceStore,
	currencies *Currencies,
	upstreams []domain.PriceUpstream,
	limiter domain.RateLimiter,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Oracle {
	if memory == nil {
		memory = NewMemoryCache()
	}
	cfg.NativeCurrency = strings.ToLower(cfg.NativeCurrency)
	cfg.WrappedCurrency = strings.ToLower(cfg.WrappedCurrency)
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	return &Oracle{
		memory:     memory,
		shared:     shared,
		store:      store,
		currencies: currencies,
		upstreams:  upstreams,
		limiter:    limiter,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "oracle")),
	}
}

// Currency returns the metadata of a currency.
func (o *Oracle) Currency(ctx context.Context, contract string) (domain.Currency, error) {
	return o.currencies.Get(ctx, contract)
}

// USDPrice returns the USD unit value of currency for the day of ts. It
// returns domain.ErrNoPrice when no tier can answer.
func (o *Oracle) USDPrice(ctx context.Context, currency string, ts time.Time, acceptStale bool) (domain.USDPrice, error) {
	currency = strings.ToLower(currency)
	key := CacheKey(currency, ts)

	if p, ok := o.memory.Get(key); ok {
		o.metrics.OracleLookup("memory")
		return p, nil
	}

	if o.shared != nil {
		p, err := o.shared.Get(ctx, key)
		switch {
		case err == nil:
			o.metrics.OracleLookup("redis")
			o.memory.Set(key, p)
			return p, nil
		case !errors.Is(err, domain.ErrNotFound):
			o.logger.Warn("oracle: shared cache read failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	p, err := o.lookup(ctx, key, currency, ts, acceptStale)
	if err != nil {
		return domain.USDPrice{}, err
	}
	// A row from an earlier day must not shadow a later fresh price.
	if domain.DayBucket(p.Timestamp) != domain.DayBucket(ts) {
		return p, nil
	}

	o.memory.Set(key, p)
	if o.shared != nil {
		if err := o.shared.Set(ctx, key, p, o.cfg.CacheTTL); err != nil {
			o.logger.Warn("oracle: shared cache write failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return p, nil
}

// lookup shares one resolve per key between concurrent callers. The resolve
// runs detached from any single caller so one cancellation does not fail the
// others; each caller still stops waiting when its own ctx is done.
func (o *Oracle) lookup(ctx context.Context, key, currency string, ts time.Time, acceptStale bool) (domain.USDPrice, error) {
	flightKey := key
	if acceptStale {
		flightKey += ":stale"
	}
	ch := o.group.DoChan(flightKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ResolveTimeout)
		defer cancel()
		return o.resolve(rctx, currency, ts, acceptStale)
	})

	select {
	case <-ctx.Done():
		return domain.USDPrice{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.USDPrice{}, res.Err
		}
		return res.Val.(domain.USDPrice), nil
	}
}

// resolve consults the table and, when the row is missing or stale, the
// upstreams. A stale row is still returned when every upstream misses.
func (o *Oracle) resolve(ctx context.Context, currency string, ts time.Time, acceptStale bool) (domain.USDPrice, error) {
	day := domain.DayBucket(ts)

	var cached *domain.USDPrice
	p, err := o.store.LatestAtOrBefore(ctx, currency, ts)
	switch {
	case err == nil:
		cached = &p
	case errors.Is(err, domain.ErrNotFound):
	default:
		o.logger.Warn("oracle: store read failed",
			slog.String("currency", currency), slog.String("error", err.Error()))
	}

	if cached != nil && (acceptStale || domain.DayBucket(cached.Timestamp) == day) {
		o.metrics.OracleLookup("postgres")
		return *cached, nil
	}

	if up, ok := o.fetchUpstream(ctx, currency, day); ok {
		return up, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.USDPrice{}, err
	}
	if cached != nil {
		o.metrics.OracleLookup("stale")
		return *cached, nil
	}
	o.metrics.OracleLookup("miss")
	return domain.USDPrice{}, fmt.Errorf("oracle: %s on day %d: %w", currency, day, domain.ErrNoPrice)
}

func (o *Oracle) fetchUpstream(ctx context.Context, currency string, day int64) (domain.USDPrice, bool) {
	log := o.logger.With(slog.String("currency", currency), slog.Int64("day", day))

	meta, err := o.currencies.Get(ctx, currency)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn("oracle: currency lookup failed", slog.String("error", err.Error()))
		}
		meta = domain.Currency{Contract: currency}
	}

	for _, up := range o.upstreams {
		if !o.allow(ctx, up.Name()) {
			log.Warn("oracle: upstream throttled", slog.String("upstream", up.Name()))
			continue
		}
		value, ok, err := up.FetchUSD(ctx, meta, day)
		if err != nil {
			log.Error("oracle: upstream failed",
				slog.String("upstream", up.Name()), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		p := domain.USDPrice{Currency: currency, Timestamp: dayTime(day), Value: value}
		if err := o.store.InsertIfAbsent(ctx, p); err != nil {
			log.Warn("oracle: persist upstream price failed", slog.String("error", err.Error()))
		}
		o.metrics.OracleLookup(up.Name())
		log.Info("oracle: upstream price", slog.String("upstream", up.Name()), slog.String("value", value.String()))
		return p, true
	}
	return domain.USDPrice{}, false
}

func (o *Oracle) allow(ctx context.Context, upstream string) bool {
	if o.limiter == nil || o.cfg.UpstreamLimit <= 0 {
		return true
	}
	ok, err := o.limiter.Allow(ctx, "oracle:"+upstream, o.cfg.UpstreamLimit, o.cfg.UpstreamWindow)
	if err != nil {
		// Fail open.
		o.logger.Warn("oracle: rate limiter failed", slog.String("error", err.Error()))
		return true
	}
	return ok
}

// USDAndNativePrices converts price (in base units of currency) to USD and to
// the native currency. Unavailable conversions are left nil.
func (o *Oracle) USDAndNativePrices(ctx context.Context, currency string, price *big.Int, ts time.Time, opts Options) (domain.ConvertedPrices, error) {
	currency = strings.ToLower(currency)
	out, err := o.convert(ctx, currency, o.cfg.NativeCurrency, price, ts, opts)
	if err != nil {
		return out, err
	}
	if currency == o.cfg.NativeCurrency || currency == o.cfg.WrappedCurrency {
		out.Native = new(big.Int).Set(price)
	}
	return out, nil
}

// USDAndCurrencyPrices converts price from one currency to USD and to
// another currency. The target amount is expressed with 18 decimals.
func (o *Oracle) USDAndCurrencyPrices(ctx context.Context, from, to string, price *big.Int, ts time.Time, opts Options) (domain.ConvertedPrices, error) {
	return o.convert(ctx, strings.ToLower(from), strings.ToLower(to), price, ts, opts)
}

func (o *Oracle) convert(ctx context.Context, from, to string, price *big.Int, ts time.Time, opts Options) (domain.ConvertedPrices, error) {
	var out domain.ConvertedPrices

	fromUSD, err := o.USDPrice(ctx, from, ts, opts.AcceptStale)
	if err != nil {
		if errors.Is(err, domain.ErrNoPrice) {
			return out, nil
		}
		return out, err
	}

	var toUSD *domain.USDPrice
	if !opts.OnlyUSD {
		p, err := o.USDPrice(ctx, to, ts, opts.AcceptStale)
		switch {
		case err == nil:
			toUSD = &p
		case !errors.Is(err, domain.ErrNoPrice):
			return out, err
		}
	}

	cur, err := o.currencies.Get(ctx, from)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return out, nil
		}
		return out, err
	}
	if cur.Decimals <= 0 {
		return out, nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cur.Decimals)), nil)

	usd := new(big.Int).Mul(price, fromUSD.Value)
	out.USD = usd.Quo(usd, unit)

	if toUSD != nil && toUSD.Value.Sign() > 0 {
		n := new(big.Int).Mul(price, fromUSD.Value)
		n.Mul(n, nativeUnit)
		n.Quo(n, toUSD.Value)
		out.Native = n.Quo(n, unit)
	}
	return out, nil
}
