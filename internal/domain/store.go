package domain

import (
	"context"
	"time"
)

// OrderStore persists canonical orders.
type OrderStore interface {
	// GetTokenSetID returns the token set of an existing order. The second
	// return is false for rows that exist without a token set. ErrNotFound
	// is returned when no row exists.
	GetTokenSetID(ctx context.Context, id string) (string, bool, error)
	Delete(ctx context.Context, id string) error
	// InsertBatch inserts orders in as few statements as the parameter limit
	// allows, ignoring id conflicts.
	InsertBatch(ctx context.Context, orders []Order) error
	// Reprice updates price fields when ts is strictly after the order's
	// validity lower bound. It reports whether a row changed.
	Reprice(ctx context.Context, o Order, ts time.Time) (bool, error)
	// SetStatus moves an order to status (with expiration = ts) under the
	// same timestamp guard as Reprice.
	SetStatus(ctx context.Context, id string, status FillabilityStatus, ts time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (Order, error)
}

// FillableQuery selects sell orders for the router.
type FillableQuery struct {
	// Currency restricts candidates when non-empty.
	Currency           string
	MinQuantity        int64
	AllowInactive      bool
	NormalizeRoyalties bool
	PreferredSourceID  *int
	Limit              int
}

// FillableOrder is an order row joined with its token and contract kind.
type FillableOrder struct {
	Order
	TokenKind TokenKind
	TokenID   string
}

// ListingStore is the read side used by the router.
type ListingStore interface {
	// GetFillable returns ErrNotFound when the id does not match q.
	GetFillable(ctx context.Context, id string, q FillableQuery) (FillableOrder, error)
	// BestForToken returns candidates for token:<contract>:<tokenId> ordered
	// by value, then preferred source or fee bps.
	BestForToken(ctx context.Context, contract, tokenID string, q FillableQuery) ([]FillableOrder, error)
}

// TokenSetStore persists token sets referenced by orders.
type TokenSetStore interface {
	EnsureContractWide(ctx context.Context, contract string) (string, error)
	EnsureSingleToken(ctx context.Context, contract, tokenID string) (string, error)
}

// ContractStore reads NFT contract metadata.
type ContractStore interface {
	GetKind(ctx context.Context, contract string) (TokenKind, error)
}

// USDPriceStore persists oracle rows.
type USDPriceStore interface {
	// LatestAtOrBefore returns the newest row whose day is at or before the
	// day of ts.
	LatestAtOrBefore(ctx context.Context, currency string, ts time.Time) (USDPrice, error)
	// InsertIfAbsent stores the row for the day of p.Timestamp unless one
	// already exists.
	InsertIfAbsent(ctx context.Context, p USDPrice) error
}

// CurrencyStore reads currency metadata.
type CurrencyStore interface {
	Get(ctx context.Context, contract string) (Currency, error)
}

// SourceStore persists marketplace sources.
type SourceStore interface {
	List(ctx context.Context) ([]Source, error)
	Insert(ctx context.Context, s Source) (Source, error)
}

// RoyaltyStore reads default royalty schedules.
type RoyaltyStore interface {
	// GetRoyalties returns the schedule for contract:<c> or token:<c>:<id>
	// under scheme. An unknown key yields an empty schedule.
	GetRoyalties(ctx context.Context, tokenSetKey, scheme string) ([]Royalty, error)
}
