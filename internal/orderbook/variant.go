package orderbook

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// Variant is the per-protocol capability set of a pool order kind. Signed
// order kinds have no variant.
type Variant interface {
	Kind() domain.OrderKind
	// RawOrderID maps an unposted raw listing to the deterministic id of the
	// order it corresponds to.
	RawOrderID(raw json.RawMessage) (string, error)
	// Ladder returns the pool an order draws from and its embedded marginal
	// price ladder. Legs on the same pool consume successive entries.
	Ladder(o domain.Order) (pool string, prices []*big.Int, err error)
}

// Variants dispatches by order kind.
type Variants map[domain.OrderKind]Variant

// DefaultVariants returns the pool kinds the order book understands.
func DefaultVariants() Variants {
	return Variants{
		domain.OrderKindNFTX:     NFTXVariant{},
		domain.OrderKindSudoswap: SudoswapVariant{},
	}
}

// Get returns the variant for kind, if any.
func (v Variants) Get(kind domain.OrderKind) (Variant, bool) {
	variant, ok := v[kind]
	return variant, ok
}

// NFTXVariant handles NFTX vault pools.
type NFTXVariant struct{}

func (NFTXVariant) Kind() domain.OrderKind { return domain.OrderKindNFTX }

func (NFTXVariant) RawOrderID(raw json.RawMessage) (string, error) {
	var data struct {
		Pool        string   `json:"pool"`
		SpecificIDs []string `json:"specificIds"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("%w: nftx: %v", domain.ErrInvalidRawOrder, err)
	}
	if data.Pool == "" || len(data.SpecificIDs) == 0 {
		return "", fmt.Errorf("%w: nftx: pool and specificIds are required", domain.ErrInvalidRawOrder)
	}
	return OrderID(string(domain.OrderKindNFTX), strings.ToLower(data.Pool), domain.OrderSideSell, data.SpecificIDs[0]), nil
}

func (NFTXVariant) Ladder(o domain.Order) (string, []*big.Int, error) {
	return poolLadder(o, func(d domain.PoolOrderData) string { return d.Pool })
}

// SudoswapVariant handles sudoswap pairs.
type SudoswapVariant struct{}

func (SudoswapVariant) Kind() domain.OrderKind { return domain.OrderKindSudoswap }

func (SudoswapVariant) RawOrderID(raw json.RawMessage) (string, error) {
	var data struct {
		Pair    string `json:"pair"`
		TokenID string `json:"tokenId"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("%w: sudoswap: %v", domain.ErrInvalidRawOrder, err)
	}
	if data.Pair == "" || data.TokenID == "" {
		return "", fmt.Errorf("%w: sudoswap: pair and tokenId are required", domain.ErrInvalidRawOrder)
	}
	return OrderID(string(domain.OrderKindSudoswap), strings.ToLower(data.Pair), domain.OrderSideSell, data.TokenID), nil
}

func (SudoswapVariant) Ladder(o domain.Order) (string, []*big.Int, error) {
	return poolLadder(o, func(d domain.PoolOrderData) string { return d.Pair })
}

// poolLadder decodes the embedded ladder. An order without one prices every
// unit at its current price.
func poolLadder(o domain.Order, poolOf func(domain.PoolOrderData) string) (string, []*big.Int, error) {
	data, err := o.DecodePoolData()
	if err != nil {
		return "", nil, fmt.Errorf("decode %s raw data of %s: %w", o.Kind, o.ID, err)
	}
	pool := poolOf(data)
	if pool == "" {
		pool = o.Maker
	}

	prices := make([]*big.Int, 0, len(data.Extra.Prices))
	for _, s := range data.Extra.Prices {
		p, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return "", nil, fmt.Errorf("%s order %s: bad ladder entry %q", o.Kind, o.ID, s)
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 && o.Price != nil {
		prices = append(prices, new(big.Int).Set(o.Price))
	}
	return strings.ToLower(pool), prices, nil
}
