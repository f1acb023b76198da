package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// USDPriceStore implements domain.USDPriceStore over the usd_prices table.
type USDPriceStore struct {
	pool *pgxpool.Pool
}

var _ domain.USDPriceStore = (*USDPriceStore)(nil)

// NewUSDPriceStore creates a new USDPriceStore.
func NewUSDPriceStore(pool *pgxpool.Pool) *USDPriceStore {
	return &USDPriceStore{pool: pool}
}

// LatestAtOrBefore returns the most recent daily row at or before the day of
// ts.
func (s *USDPriceStore) LatestAtOrBefore(ctx context.Context, currency string, ts time.Time) (domain.USDPrice, error) {
	const query = `
		SELECT currency, timestamp, value::text
		FROM usd_prices
		WHERE currency = $1
		  AND timestamp <= date_trunc('day', $2::timestamptz)
		ORDER BY timestamp DESC
		LIMIT 1`

	var (
		p     domain.USDPrice
		value string
	)
	err := s.pool.QueryRow(ctx, query, strings.ToLower(currency), ts.UTC()).Scan(&p.Currency, &p.Timestamp, &value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.USDPrice{}, domain.ErrNotFound
		}
		return domain.USDPrice{}, fmt.Errorf("postgres: latest usd price %s: %w", currency, err)
	}
	if p.Value, err = parseNumeric(&value); err != nil {
		return domain.USDPrice{}, fmt.Errorf("postgres: latest usd price %s: %w", currency, err)
	}
	return p, nil
}

// InsertIfAbsent stores p at the start of its UTC day. An existing row for
// the same day wins.
func (s *USDPriceStore) InsertIfAbsent(ctx context.Context, p domain.USDPrice) error {
	const query = `
		INSERT INTO usd_prices (currency, timestamp, value)
		VALUES ($1, date_trunc('day', $2::timestamptz), $3::numeric)
		ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, strings.ToLower(p.Currency), p.Timestamp.UTC(), numericArg(p.Value)); err != nil {
		return fmt.Errorf("postgres: insert usd price %s: %w", p.Currency, err)
	}
	return nil
}
