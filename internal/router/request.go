package router

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// RawOrder is an order that has not been posted to the order book yet.
type RawOrder struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Request asks for the cheapest way to buy a set of tokens or orders.
type Request struct {
	OrderIDs  []string   `json:"orderIds,omitempty"`
	RawOrders []RawOrder `json:"rawOrders,omitempty"`
	// Tokens are "<contract>:<tokenId>" pairs.
	Tokens   []string `json:"tokens,omitempty"`
	Quantity int64    `json:"quantity,omitempty"`
	Taker    string   `json:"taker"`
	Relayer  string   `json:"relayer,omitempty"`
	OnlyPath bool     `json:"onlyPath,omitempty"`
	// Currency forces the settlement currency.
	Currency             string `json:"currency,omitempty"`
	NormalizeRoyalties   bool   `json:"normalizeRoyalties,omitempty"`
	PreferredOrderSource string `json:"preferredOrderSource,omitempty"`
	// Source is the filling source used for attribution.
	Source string `json:"source,omitempty"`
	// FeesOnTop are "<recipient>:<amount>" pairs.
	FeesOnTop             []string `json:"feesOnTop,omitempty"`
	Partial               bool     `json:"partial,omitempty"`
	ForceRouter           bool     `json:"forceRouter,omitempty"`
	MaxFeePerGas          string   `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas  string   `json:"maxPriorityFeePerGas,omitempty"`
	SkipBalanceCheck      bool     `json:"skipBalanceCheck,omitempty"`
	AllowInactiveOrderIDs bool     `json:"allowInactiveOrderIds,omitempty"`
}

// Result is the built path and, unless only the path was requested, the
// steps the taker signs.
type Result struct {
	Steps []domain.Step `json:"steps,omitempty"`
	Path  []domain.Leg  `json:"path"`
}

// normalize lowercases addresses and validates the request shape.
func (r *Request) normalize() error {
	r.Taker = strings.ToLower(r.Taker)
	r.Relayer = strings.ToLower(r.Relayer)
	r.Currency = strings.ToLower(r.Currency)
	r.PreferredOrderSource = strings.ToLower(r.PreferredOrderSource)
	for i := range r.OrderIDs {
		r.OrderIDs[i] = strings.ToLower(r.OrderIDs[i])
	}
	for i := range r.Tokens {
		r.Tokens[i] = strings.ToLower(r.Tokens[i])
	}

	if !common.IsHexAddress(r.Taker) {
		return badRequest("Invalid taker %s", r.Taker)
	}
	if r.Relayer != "" && !common.IsHexAddress(r.Relayer) {
		return badRequest("Invalid relayer %s", r.Relayer)
	}
	if r.Quantity == 0 {
		r.Quantity = 1
	}
	if r.Quantity < 0 {
		return badRequest("Quantity must be positive")
	}
	if r.PreferredOrderSource != "" && len(r.Tokens) == 0 {
		return badRequest("preferredOrderSource is only allowed together with tokens")
	}
	for _, g := range []struct {
		name  string
		value string
	}{{"maxFeePerGas", r.MaxFeePerGas}, {"maxPriorityFeePerGas", r.MaxPriorityFeePerGas}} {
		if g.value == "" {
			continue
		}
		if _, ok := new(big.Int).SetString(g.value, 10); !ok {
			return badRequest("Invalid %s %s", g.name, g.value)
		}
	}
	return nil
}

// sender pays for and submits the transaction.
func (r *Request) sender() string {
	if r.Relayer != "" {
		return r.Relayer
	}
	return r.Taker
}

func parseToken(token string) (contract, tokenID string, err error) {
	contract, tokenID, ok := strings.Cut(token, ":")
	if !ok || !common.IsHexAddress(contract) {
		return "", "", badRequest("Invalid token %s", token)
	}
	if _, ok := new(big.Int).SetString(tokenID, 10); !ok {
		return "", "", badRequest("Invalid token %s", token)
	}
	return contract, tokenID, nil
}

func parseFees(raw []string) ([]domain.Fee, error) {
	fees := make([]domain.Fee, 0, len(raw))
	for _, entry := range raw {
		recipient, amount, ok := strings.Cut(entry, ":")
		if !ok || !common.IsHexAddress(recipient) {
			return nil, badRequest("Invalid fee %s", entry)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || v.Sign() < 0 {
			return nil, badRequest("Invalid fee %s", entry)
		}
		fees = append(fees, domain.Fee{Recipient: strings.ToLower(recipient), Amount: v})
	}
	return fees, nil
}

func gasHex(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return "", false
	}
	return hexutil.EncodeBig(n), true
}
