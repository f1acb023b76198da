package domain

import (
	"context"
	"math/big"
)

// PoolHelper reads pool state from chain.
type PoolHelper interface {
	GetPoolDetails(ctx context.Context, pool string) (PoolDetails, error)
	GetPoolFeatures(ctx context.Context, pool string) (PoolFeatures, error)
	// GetPoolPrice returns the cumulative price of amount units in the given
	// direction. It fails when the pool cannot serve that amount.
	GetPoolPrice(ctx context.Context, pool string, amount int, direction PriceDirection, slippageBps int) (PoolPrice, error)
	GetHeldTokenIDs(ctx context.Context, collection, pool string) ([]string, error)
}

// BalanceReader reads account balances and approvals.
type BalanceReader interface {
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error)
	ERC20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	NFTBalance(ctx context.Context, collection, tokenID, owner string) (*big.Int, error)
	// ApproveTx builds an unlimited ERC20 approval transaction.
	ApproveTx(token, owner, spender string) TxData
}

// RoyaltyProvider returns default royalty schedules.
type RoyaltyProvider interface {
	GetDefaultRoyalties(ctx context.Context, tokenSetKey, scheme string) ([]Royalty, error)
}

// PriceUpstream fetches the USD unit value of a currency for a day. ok is
// false when the upstream has no quote for it.
type PriceUpstream interface {
	Name() string
	FetchUSD(ctx context.Context, c Currency, day int64) (value *big.Int, ok bool, err error)
}

// ListingFiller builds the fill transaction and simulates each listing.
type ListingFiller interface {
	FillListingsTx(ctx context.Context, listings []ListingDetails, taker, currency string, opts FillOptions) (TxData, []bool, error)
}

// OrderIntake posts a raw signed order and returns its id.
type OrderIntake interface {
	PostOrder(ctx context.Context, kind string, data []byte) (string, error)
}
