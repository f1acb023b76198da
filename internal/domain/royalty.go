package domain

import "math/big"

// Royalty is one recipient entry of a royalty schedule.
type Royalty struct {
	Recipient string `json:"recipient"`
	Bps       int    `json:"bps"`
}

// RoyaltyShortfall is the royalty owed under the default schedule on top of
// what the order's protocol enforces.
type RoyaltyShortfall struct {
	BpsDiff      int
	TotalAmount  *big.Int
	PerRecipient []MissingRoyalty
}

// Empty reports whether no royalty is missing.
func (s RoyaltyShortfall) Empty() bool {
	return len(s.PerRecipient) == 0
}

// Amount returns the shortfall total, or zero for an empty shortfall.
func (s RoyaltyShortfall) Amount() *big.Int {
	if s.Empty() || s.TotalAmount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.TotalAmount)
}
