package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const sourcesKey = "sources"

// SourceCache implements domain.SourceCache as one JSON document.
type SourceCache struct {
	rdb *redis.Client
}

// NewSourceCache creates a SourceCache backed by the given Client.
func NewSourceCache(c *Client) *SourceCache {
	return &SourceCache{rdb: c.Underlying()}
}

// GetSources returns domain.ErrNotFound when no snapshot is cached.
func (sc *SourceCache) GetSources(ctx context.Context) ([]domain.Source, error) {
	data, err := sc.rdb.Get(ctx, sourcesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get sources: %w", err)
	}

	var sources []domain.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("redis: unmarshal sources: %w", err)
	}
	return sources, nil
}

// SetSources replaces the cached snapshot.
func (sc *SourceCache) SetSources(ctx context.Context, sources []domain.Source, ttl time.Duration) error {
	data, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("redis: marshal sources: %w", err)
	}
	if err := sc.rdb.Set(ctx, sourcesKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set sources: %w", err)
	}
	return nil
}

var _ domain.SourceCache = (*SourceCache)(nil)
