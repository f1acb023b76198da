package orderbook

import (
	"context"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// withTimeout bounds one external call. A zero timeout returns ctx as is.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// timedHelper gives every pool helper call its own deadline.
type timedHelper struct {
	helper  domain.PoolHelper
	timeout time.Duration
}

func (h timedHelper) GetPoolDetails(ctx context.Context, pool string) (domain.PoolDetails, error) {
	ctx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	return h.helper.GetPoolDetails(ctx, pool)
}

func (h timedHelper) GetPoolFeatures(ctx context.Context, pool string) (domain.PoolFeatures, error) {
	ctx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	return h.helper.GetPoolFeatures(ctx, pool)
}

func (h timedHelper) GetPoolPrice(ctx context.Context, pool string, amount int, direction domain.PriceDirection, slippageBps int) (domain.PoolPrice, error) {
	ctx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	return h.helper.GetPoolPrice(ctx, pool, amount, direction, slippageBps)
}

func (h timedHelper) GetHeldTokenIDs(ctx context.Context, collection, pool string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	return h.helper.GetHeldTokenIDs(ctx, collection, pool)
}

var _ domain.PoolHelper = timedHelper{}
