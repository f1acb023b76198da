package domain

import (
	"math/big"
	"time"
)

// PriceDirection is the taker's side when sampling a pool price: "buy" means
// the taker buys NFTs out of the pool, "sell" means the taker sells into it.
type PriceDirection string

const (
	DirectionBuy  PriceDirection = "buy"
	DirectionSell PriceDirection = "sell"
)

// PoolEvent is a pool-state-change notification observed on chain.
type PoolEvent struct {
	Pool        string `json:"pool"`
	TxHash      string `json:"txHash"`
	TxBlock     int64  `json:"txBlock"`
	LogIndex    int64  `json:"logIndex"`
	TxTimestamp int64  `json:"txTimestamp"`
}

// Time returns the event timestamp truncated to seconds.
func (e PoolEvent) Time() time.Time {
	return time.Unix(e.TxTimestamp, 0).UTC()
}

// PoolDetails describes a liquidity pool and the collection it trades.
type PoolDetails struct {
	Address string
	NFT     string
	VaultID string
}

// PoolFeatures are the pool's feature flags read live from chain.
type PoolFeatures struct {
	AssetAddress       string
	AllowAllItems      bool
	EnableMint         bool
	EnableTargetRedeem bool
}

// PoolPrice is one sample of a pool's pricing function. Price is cumulative
// for the sampled amount; FeeBps is the marketplace fee at that tier.
type PoolPrice struct {
	Price  *big.Int
	FeeBps int
}

// PriceLadder is the sampled per-unit marginal price sequence of a pool.
type PriceLadder struct {
	// Cumulative holds the raw samples in amount order.
	Cumulative []PoolPrice
	// Marginal[i] is Cumulative[i] - Cumulative[i-1].
	Marginal []*big.Int
}

// Len returns the number of successful samples.
func (l PriceLadder) Len() int { return len(l.Cumulative) }

// First returns the first sample. It panics on an empty ladder.
func (l PriceLadder) First() PoolPrice { return l.Cumulative[0] }

// MarginalStrings renders the marginal ladder as base-10 strings.
func (l PriceLadder) MarginalStrings() []string {
	out := make([]string, len(l.Marginal))
	for i, p := range l.Marginal {
		out[i] = p.String()
	}
	return out
}
