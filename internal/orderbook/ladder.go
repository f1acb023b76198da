package orderbook

import (
	"context"
	"errors"
	"math/big"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// SampleLadder queries the pool price for amounts 1..depth with zero
// slippage and stops at the first failure, which means the pool cannot serve
// that many units. Samples are cumulative; the returned ladder also carries
// the marginal per-unit prices. Only context cancellation is returned as an
// error.
func SampleLadder(
	ctx context.Context,
	helper domain.PoolHelper,
	pool string,
	direction domain.PriceDirection,
	depth int,
) (domain.PriceLadder, error) {
	var ladder domain.PriceLadder
	for i := 0; i < depth; i++ {
		p, err := helper.GetPoolPrice(ctx, pool, i+1, direction, 0)
		if err != nil {
			if ctx.Err() != nil {
				return domain.PriceLadder{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.PriceLadder{}, err
			}
			break
		}
		ladder.Cumulative = append(ladder.Cumulative, p)
	}

	ladder.Marginal = make([]*big.Int, len(ladder.Cumulative))
	for i, p := range ladder.Cumulative {
		if i == 0 {
			ladder.Marginal[i] = new(big.Int).Set(p.Price)
			continue
		}
		ladder.Marginal[i] = new(big.Int).Sub(p.Price, ladder.Cumulative[i-1].Price)
	}
	return ladder, nil
}

// subtractBps returns amount - amount*bps/10000.
func subtractBps(amount *big.Int, bps int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(10000))
	return fee.Sub(amount, fee)
}
