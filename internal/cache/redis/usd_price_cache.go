package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// USDPriceCache implements domain.USDPriceCache with one hash per
// currency-day at "usdprice:{key}" holding fields "currency", "ts" (unix
// seconds) and "value".
type USDPriceCache struct {
	rdb *redis.Client
}

// NewUSDPriceCache creates a USDPriceCache backed by the given Client.
func NewUSDPriceCache(c *Client) *USDPriceCache {
	return &USDPriceCache{rdb: c.Underlying()}
}

func usdPriceKey(key string) string {
	return "usdprice:" + key
}

// Set stores p under key and expires it after ttl.
func (pc *USDPriceCache) Set(ctx context.Context, key string, p domain.USDPrice, ttl time.Duration) error {
	if p.Value == nil {
		return fmt.Errorf("redis: set usd price %s: nil value", key)
	}

	k := usdPriceKey(key)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]any{
		"currency": p.Currency,
		"ts":       strconv.FormatInt(p.Timestamp.Unix(), 10),
		"value":    p.Value.String(),
	})
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set usd price %s: %w", key, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when key is absent or expired.
func (pc *USDPriceCache) Get(ctx context.Context, key string) (domain.USDPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, usdPriceKey(key)).Result()
	if err != nil {
		return domain.USDPrice{}, fmt.Errorf("redis: get usd price %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.USDPrice{}, domain.ErrNotFound
	}

	value, ok := new(big.Int).SetString(vals["value"], 10)
	if !ok {
		return domain.USDPrice{}, fmt.Errorf("redis: parse usd price %s: bad value %q", key, vals["value"])
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.USDPrice{}, fmt.Errorf("redis: parse usd price ts %s: %w", key, err)
	}

	return domain.USDPrice{
		Currency:  vals["currency"],
		Timestamp: time.Unix(ts, 0).UTC(),
		Value:     value,
	}, nil
}

var _ domain.USDPriceCache = (*USDPriceCache)(nil)
