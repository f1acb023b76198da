package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// RoyaltyCache implements domain.RoyaltyCache as a read-through JSON cache.
type RoyaltyCache struct {
	rdb *redis.Client
}

// NewRoyaltyCache creates a RoyaltyCache backed by the given Client.
func NewRoyaltyCache(c *Client) *RoyaltyCache {
	return &RoyaltyCache{rdb: c.Underlying()}
}

func royaltyKey(key string) string {
	return "royalties:" + key
}

// GetOrCompute returns the cached schedule for key, or runs compute and
// caches its result for ttl. Compute errors are returned and not cached.
// Cache read and write failures fall through: the computed value is still
// returned.
func (rc *RoyaltyCache) GetOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) ([]domain.Royalty, error),
) ([]domain.Royalty, error) {
	k := royaltyKey(key)

	if data, err := rc.rdb.Get(ctx, k).Bytes(); err == nil {
		var out []domain.Royalty
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if out == nil {
		out = []domain.Royalty{}
	}
	if data, err := json.Marshal(out); err == nil {
		_ = rc.rdb.Set(ctx, k, data, ttl).Err()
	}
	return out, nil
}

var _ domain.RoyaltyCache = (*RoyaltyCache)(nil)
