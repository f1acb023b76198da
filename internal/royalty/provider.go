package royalty

import (
	"context"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// CachedProvider serves default royalty schedules from the store through a
// read-through cache.
type CachedProvider struct {
	store domain.RoyaltyStore
	cache domain.RoyaltyCache
	ttl   time.Duration
}

var _ domain.RoyaltyProvider = (*CachedProvider)(nil)

// NewCachedProvider creates a CachedProvider. cache may be nil.
func NewCachedProvider(store domain.RoyaltyStore, cache domain.RoyaltyCache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{store: store, cache: cache, ttl: ttl}
}

// GetDefaultRoyalties implements domain.RoyaltyProvider.
func (p *CachedProvider) GetDefaultRoyalties(ctx context.Context, key, scheme string) ([]domain.Royalty, error) {
	load := func(ctx context.Context) ([]domain.Royalty, error) {
		return p.store.GetRoyalties(ctx, key, scheme)
	}
	if p.cache == nil {
		return load(ctx)
	}
	return p.cache.GetOrCompute(ctx, scheme+":"+key, p.ttl, load)
}
