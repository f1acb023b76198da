package domain

import (
	"encoding/json"
	"math/big"
)

// Leg is one order fill in an execution path. RawQuote is
// (price + fees) * quantity in the currency's base units.
type Leg struct {
	OrderID    string   `json:"orderId"`
	Contract   string   `json:"contract"`
	TokenID    string   `json:"tokenId"`
	Quantity   int64    `json:"quantity"`
	Source     *string  `json:"source"`
	Currency   string   `json:"currency"`
	HumanQuote string   `json:"quote"`
	RawQuote   *big.Int `json:"-"`
}

// RawQuoteString renders RawQuote as a base-10 string.
func (l Leg) RawQuoteString() string {
	if l.RawQuote == nil {
		return "0"
	}
	return l.RawQuote.String()
}

// MarshalJSON renders the leg with rawQuote as a string.
func (l Leg) MarshalJSON() ([]byte, error) {
	type alias Leg
	return json.Marshal(struct {
		alias
		RawQuote string `json:"rawQuote"`
	}{alias: alias(l), RawQuote: l.RawQuoteString()})
}

// StepItem is one unit of work inside a Step.
type StepItem struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// Step is a generic user-facing action in a transaction plan.
type Step struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Description string     `json:"description"`
	Kind        string     `json:"kind"`
	Items       []StepItem `json:"items"`
}

// Fee is an amount paid to a recipient on top of a fill.
type Fee struct {
	Recipient string   `json:"recipient"`
	Amount    *big.Int `json:"amount"`
}

// ListingDetails is one listing handed to the filler for transaction
// building and simulation.
type ListingDetails struct {
	OrderID      string          `json:"orderId"`
	Kind         OrderKind       `json:"kind"`
	ContractKind TokenKind       `json:"contractKind"`
	Contract     string          `json:"contract"`
	TokenID      string          `json:"tokenId"`
	Amount       int64           `json:"amount"`
	Currency     string          `json:"currency"`
	RawData      json.RawMessage `json:"rawData"`
	Fees         []Fee           `json:"fees"`
}

// FillOptions configure a fill transaction.
type FillOptions struct {
	Source      string `json:"source,omitempty"`
	GlobalFees  []Fee  `json:"globalFees,omitempty"`
	Partial     bool   `json:"partial"`
	ForceRouter bool   `json:"forceRouter"`
	Relayer     string `json:"relayer,omitempty"`
}

// TxData is an unsigned transaction.
type TxData struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}
