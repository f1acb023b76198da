package domain

import (
	"math/big"
	"time"
)

// USDDecimals is the fixed-point precision of stored USD unit values.
const USDDecimals = 6

// Currency is an ERC20 (or the native asset) known to the system.
type Currency struct {
	Contract      string
	Name          string
	Symbol        string
	Decimals      int
	CoingeckoID   string
	DexScreenerID string
}

// USDPrice is one oracle row: the USD value of one whole currency unit,
// scaled by 10^USDDecimals, valid for the day bucket containing Timestamp.
type USDPrice struct {
	Currency  string
	Timestamp time.Time
	Value     *big.Int
}

// DayBucket returns the day index of t since the unix epoch.
func DayBucket(t time.Time) int64 {
	return t.Unix() / 86400
}

// ConvertedPrices holds the USD and native (or target currency) conversions
// of an amount. Either may be nil when a conversion is unavailable.
type ConvertedPrices struct {
	USD    *big.Int
	Native *big.Int
}
