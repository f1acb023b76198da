package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// CurrencyStore implements domain.CurrencyStore.
type CurrencyStore struct {
	pool *pgxpool.Pool
}

var _ domain.CurrencyStore = (*CurrencyStore)(nil)

// NewCurrencyStore creates a new CurrencyStore.
func NewCurrencyStore(pool *pgxpool.Pool) *CurrencyStore {
	return &CurrencyStore{pool: pool}
}

type currencyMetadata struct {
	CoingeckoCurrencyID   string `json:"coingeckoCurrencyId,omitempty"`
	DexScreenerCurrencyID string `json:"dexscreenerCurrencyId,omitempty"`
}

// Get loads a currency by contract address.
func (s *CurrencyStore) Get(ctx context.Context, contract string) (domain.Currency, error) {
	const query = `
		SELECT contract, coalesce(name, ''), coalesce(symbol, ''), coalesce(decimals, 18), metadata
		FROM currencies
		WHERE contract = $1`

	var (
		c    domain.Currency
		meta []byte
	)
	err := s.pool.QueryRow(ctx, query, strings.ToLower(contract)).Scan(&c.Contract, &c.Name, &c.Symbol, &c.Decimals, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Currency{}, domain.ErrNotFound
		}
		return domain.Currency{}, fmt.Errorf("postgres: get currency %s: %w", contract, err)
	}

	var m currencyMetadata
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m); err != nil {
			return domain.Currency{}, fmt.Errorf("postgres: decode currency metadata %s: %w", contract, err)
		}
	}
	c.CoingeckoID = m.CoingeckoCurrencyID
	c.DexScreenerID = m.DexScreenerCurrencyID
	return c, nil
}

// Upsert stores currency metadata, replacing any existing row.
func (s *CurrencyStore) Upsert(ctx context.Context, c domain.Currency) error {
	meta, err := json.Marshal(currencyMetadata{
		CoingeckoCurrencyID:   c.CoingeckoID,
		DexScreenerCurrencyID: c.DexScreenerID,
	})
	if err != nil {
		return fmt.Errorf("postgres: encode currency metadata %s: %w", c.Contract, err)
	}

	const query = `
		INSERT INTO currencies (contract, name, symbol, decimals, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contract) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			metadata = EXCLUDED.metadata`

	if _, err := s.pool.Exec(ctx, query, strings.ToLower(c.Contract), c.Name, c.Symbol, c.Decimals, meta); err != nil {
		return fmt.Errorf("postgres: upsert currency %s: %w", c.Contract, err)
	}
	return nil
}
