package domain

import (
	"encoding/json"
	"math/big"
	"time"
)

// OrderKind tags the marketplace protocol an order belongs to.
type OrderKind string

const (
	OrderKindNFTX      OrderKind = "nftx"
	OrderKindSudoswap  OrderKind = "sudoswap"
	OrderKindSeaport   OrderKind = "seaport"
	OrderKindNFTEarth  OrderKind = "nftearth"
	OrderKindUniverse  OrderKind = "universe"
	OrderKindRarible   OrderKind = "rarible"
	OrderKindX2Y2      OrderKind = "x2y2"
	OrderKindLooksRare OrderKind = "looks-rare"
	OrderKindZeroExV4  OrderKind = "zeroex-v4"
)

// IsPoolKind reports whether orders of this kind are derived from AMM pool
// state rather than signed by a maker.
func (k OrderKind) IsPoolKind() bool {
	return k == OrderKindNFTX || k == OrderKindSudoswap
}

// OrderSide indicates whether this is a listing (sell) or a bid (buy).
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// FillabilityStatus tracks the order lifecycle.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityExpired   FillabilityStatus = "expired"
	FillabilityFilled    FillabilityStatus = "filled"
)

// ApprovalStatus tracks whether the maker approved the exchange.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
	ApprovalDisabled   ApprovalStatus = "disabled"
)

// TokenKind is the token standard of an NFT contract.
type TokenKind string

const (
	TokenKindERC721  TokenKind = "erc721"
	TokenKindERC1155 TokenKind = "erc1155"
)

// FeeBreakdown is one built-in fee component of an order.
type FeeBreakdown struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Bps       int    `json:"bps"`
}

// MissingRoyalty is a royalty owed under the default schedule but not
// enforced by the order's protocol. Amount is a base-10 integer string.
type MissingRoyalty struct {
	Bps       int    `json:"bps"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// Order is the canonical fillable unit stored in the orders table.
type Order struct {
	ID                string
	Kind              OrderKind
	Side              OrderSide
	FillabilityStatus FillabilityStatus
	ApprovalStatus    ApprovalStatus
	TokenSetID        string
	Contract          string
	Maker             string
	Taker             string
	Price             *big.Int
	Value             *big.Int
	Currency          string
	QuantityRemaining int64
	FeeBps            int
	FeeBreakdown      []FeeBreakdown
	MissingRoyalties  []MissingRoyalty
	NormalizedValue   *big.Int
	ValidFrom         time.Time
	// ValidUntil is nil when the order never expires.
	ValidUntil *time.Time
	SourceID   *int
	// RawData is the protocol payload as stored; pool kinds hold a
	// PoolOrderData document.
	RawData     json.RawMessage
	BlockNumber *int64
	LogIndex    *int64
}

// PoolOrderData is the protocol payload embedded in pool-derived orders. The
// Extra.Prices ladder holds the marginal per-unit prices used for sequential
// consumption by the router.
type PoolOrderData struct {
	VaultID     string         `json:"vaultId,omitempty"`
	Collection  string         `json:"collection"`
	Pool        string         `json:"pool,omitempty"`
	Pair        string         `json:"pair,omitempty"`
	SpecificIDs []string       `json:"specificIds,omitempty"`
	TokenID     string         `json:"tokenId,omitempty"`
	Currency    string         `json:"currency"`
	Path        []string       `json:"path,omitempty"`
	Price       string         `json:"price"`
	Extra       PoolOrderExtra `json:"extra"`
}

// PoolOrderExtra carries the embedded price ladder.
type PoolOrderExtra struct {
	Prices []string `json:"prices"`
}

// MissingRoyaltyTotal sums the amounts of all missing royalties.
func (o Order) MissingRoyaltyTotal() *big.Int {
	total := new(big.Int)
	for _, r := range o.MissingRoyalties {
		amt, ok := new(big.Int).SetString(r.Amount, 10)
		if ok {
			total.Add(total, amt)
		}
	}
	return total
}

// DecodePoolData parses RawData as a pool order payload.
func (o Order) DecodePoolData() (PoolOrderData, error) {
	var data PoolOrderData
	if err := json.Unmarshal(o.RawData, &data); err != nil {
		return PoolOrderData{}, err
	}
	return data, nil
}
