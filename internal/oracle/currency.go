package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const nativeDecimals = 18

// Currencies resolves currency metadata from configuration first and the
// currencies table second. Lookups are memoized for the process lifetime.
type Currencies struct {
	static map[string]domain.Currency
	store  domain.CurrencyStore
	native string

	mu   sync.RWMutex
	seen map[string]domain.Currency
}

// NewCurrencies creates a Currencies resolver. store may be nil.
func NewCurrencies(static []domain.Currency, store domain.CurrencyStore, native string) *Currencies {
	m := make(map[string]domain.Currency, len(static))
	for _, c := range static {
		c.Contract = strings.ToLower(c.Contract)
		m[c.Contract] = c
	}
	return &Currencies{
		static: m,
		store:  store,
		native: strings.ToLower(native),
		seen:   make(map[string]domain.Currency),
	}
}

// Get returns the currency for contract. An unknown non-native contract
// yields domain.ErrNotFound.
func (c *Currencies) Get(ctx context.Context, contract string) (domain.Currency, error) {
	contract = strings.ToLower(contract)
	if cur, ok := c.static[contract]; ok {
		return cur, nil
	}

	c.mu.RLock()
	cur, ok := c.seen[contract]
	c.mu.RUnlock()
	if ok {
		return cur, nil
	}

	if c.store != nil {
		cur, err := c.store.Get(ctx, contract)
		switch {
		case err == nil:
			c.mu.Lock()
			c.seen[contract] = cur
			c.mu.Unlock()
			return cur, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Currency{}, err
		}
	}

	if contract == c.native {
		return domain.Currency{Contract: contract, Symbol: "ETH", Decimals: nativeDecimals}, nil
	}
	return domain.Currency{}, domain.ErrNotFound
}
