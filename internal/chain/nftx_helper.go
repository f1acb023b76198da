package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

var (
	oneToken = big.NewInt(1e18)
	// Vault fees are 18-decimal fractions; 1e14 is one basis point.
	feePerBps = big.NewInt(1e14)
)

// NFTXHelper reads NFTX vault state and prices pool trades through an AMM
// router holding vToken/WETH liquidity.
type NFTXHelper struct {
	caller
	router common.Address
	weth   common.Address
}

var _ domain.PoolHelper = (*NFTXHelper)(nil)

// NewNFTXHelper creates a helper quoting through router with weth as the
// pair's quote token.
func NewNFTXHelper(backend Backend, router, weth string, timeout time.Duration) *NFTXHelper {
	return &NFTXHelper{
		caller: caller{backend: backend, timeout: timeout},
		router: common.HexToAddress(router),
		weth:   common.HexToAddress(weth),
	}
}

func (h *NFTXHelper) GetPoolDetails(ctx context.Context, pool string) (domain.PoolDetails, error) {
	asset, err := h.callAddress(ctx, nftxVaultABI, pool, "assetAddress")
	if err != nil {
		return domain.PoolDetails{}, fmt.Errorf("chain: pool details %s: %w", pool, err)
	}
	id, err := h.callBig(ctx, nftxVaultABI, pool, "vaultId")
	if err != nil {
		return domain.PoolDetails{}, fmt.Errorf("chain: pool details %s: %w", pool, err)
	}
	return domain.PoolDetails{
		Address: strings.ToLower(pool),
		NFT:     strings.ToLower(asset.Hex()),
		VaultID: id.String(),
	}, nil
}

func (h *NFTXHelper) GetPoolFeatures(ctx context.Context, pool string) (domain.PoolFeatures, error) {
	asset, err := h.callAddress(ctx, nftxVaultABI, pool, "assetAddress")
	if err != nil {
		return domain.PoolFeatures{}, fmt.Errorf("chain: pool features %s: %w", pool, err)
	}
	f := domain.PoolFeatures{AssetAddress: strings.ToLower(asset.Hex())}
	for _, flag := range []struct {
		method string
		dst    *bool
	}{
		{"allowAllItems", &f.AllowAllItems},
		{"enableMint", &f.EnableMint},
		{"enableTargetRedeem", &f.EnableTargetRedeem},
	} {
		v, err := h.callBool(ctx, nftxVaultABI, pool, flag.method)
		if err != nil {
			return domain.PoolFeatures{}, fmt.Errorf("chain: pool features %s: %w", pool, err)
		}
		*flag.dst = v
	}
	return f, nil
}

// GetPoolPrice quotes amount NFTs against the vault's AMM pair.
//
// Buying redeems NFTs, so the taker must acquire (1 + targetRedeemFee) vTokens
// per NFT. Selling mints, yielding (1 - mintFee) vTokens per NFT.
func (h *NFTXHelper) GetPoolPrice(ctx context.Context, pool string, amount int, direction domain.PriceDirection, slippageBps int) (domain.PoolPrice, error) {
	if amount <= 0 {
		return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: non-positive amount %d", pool, amount)
	}
	vault := common.HexToAddress(pool)
	n := big.NewInt(int64(amount))

	switch direction {
	case domain.DirectionBuy:
		fee, err := h.callBig(ctx, nftxVaultABI, pool, "targetRedeemFee")
		if err != nil {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, err)
		}
		vtokens := new(big.Int).Mul(new(big.Int).Add(oneToken, fee), n)
		amounts, err := h.callBigSlice(ctx, ammRouterABI, h.router.Hex(), "getAmountsIn", vtokens, []common.Address{h.weth, vault})
		if err != nil {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, err)
		}
		if len(amounts) == 0 {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, domain.ErrPoolExhausted)
		}
		price := withSlippage(amounts[0], slippageBps, true)
		return domain.PoolPrice{Price: price, FeeBps: feeBps(fee)}, nil

	case domain.DirectionSell:
		fee, err := h.callBig(ctx, nftxVaultABI, pool, "mintFee")
		if err != nil {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, err)
		}
		if fee.Cmp(oneToken) >= 0 {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, domain.ErrPoolExhausted)
		}
		vtokens := new(big.Int).Mul(new(big.Int).Sub(oneToken, fee), n)
		amounts, err := h.callBigSlice(ctx, ammRouterABI, h.router.Hex(), "getAmountsOut", vtokens, []common.Address{vault, h.weth})
		if err != nil {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, err)
		}
		if len(amounts) == 0 {
			return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: %w", pool, domain.ErrPoolExhausted)
		}
		price := withSlippage(amounts[len(amounts)-1], slippageBps, false)
		return domain.PoolPrice{Price: price, FeeBps: feeBps(fee)}, nil

	default:
		return domain.PoolPrice{}, fmt.Errorf("chain: pool price %s: unknown direction %q", pool, direction)
	}
}

func (h *NFTXHelper) GetHeldTokenIDs(ctx context.Context, collection, pool string) ([]string, error) {
	ids, err := h.callBigSlice(ctx, nftxVaultABI, pool, "allHoldings")
	if err != nil {
		return nil, fmt.Errorf("chain: holdings %s of %s: %w", pool, collection, err)
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

func feeBps(fee *big.Int) int {
	return int(new(big.Int).Quo(fee, feePerBps).Int64())
}

// withSlippage widens a quote by bps against the taker.
func withSlippage(price *big.Int, bps int, up bool) *big.Int {
	if bps <= 0 {
		return new(big.Int).Set(price)
	}
	factor := int64(10000 - bps)
	if up {
		factor = int64(10000 + bps)
	}
	out := new(big.Int).Mul(price, big.NewInt(factor))
	return out.Quo(out, big.NewInt(10000))
}
