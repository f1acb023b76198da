package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ListingStore implements domain.ListingStore: the router's view of fillable
// sell orders.
type ListingStore struct {
	pool *pgxpool.Pool
}

var _ domain.ListingStore = (*ListingStore)(nil)

// NewListingStore creates a new ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// listingFrom joins each order with its contract kind and the first token of
// its token set.
const listingFrom = `
	FROM orders o
	LEFT JOIN contracts c ON c.address = o.contract
	LEFT JOIN LATERAL (
		SELECT tst.token_id::text AS token_id
		FROM token_sets_tokens tst
		WHERE tst.token_set_id = o.token_set_id
		LIMIT 1
	) t ON TRUE`

const listingCols = orderSelectCols + `, coalesce(c.kind, 'erc721'), coalesce(t.token_id, '')`

func scanListing(scanner interface{ Scan(dest ...any) error }) (domain.FillableOrder, error) {
	var (
		kind    string
		tokenID string
	)
	o, err := scanOrder(scanner, &kind, &tokenID)
	if err != nil {
		return domain.FillableOrder{}, err
	}
	return domain.FillableOrder{Order: o, TokenKind: domain.TokenKind(kind), TokenID: tokenID}, nil
}

// GetFillable loads a sell order by id if it satisfies q.
func (s *ListingStore) GetFillable(ctx context.Context, id string, q domain.FillableQuery) (domain.FillableOrder, error) {
	query := `SELECT ` + listingCols + listingFrom + `
		WHERE o.id = $1
		  AND o.side = 'sell'
		  AND (o.taker IS NULL OR o.taker = '` + zeroAddress + `')
		  AND o.quantity_remaining >= $2
		  AND ($3 OR (o.fillability_status = 'fillable' AND o.approval_status = 'approved'))
		  AND ($4 = '' OR o.currency = $4)`

	row := s.pool.QueryRow(ctx, query, id, minQuantity(q), q.AllowInactive, q.Currency)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FillableOrder{}, domain.ErrNotFound
		}
		return domain.FillableOrder{}, fmt.Errorf("postgres: get fillable order %s: %w", id, err)
	}
	return l, nil
}

// BestForToken returns the cheapest fillable sell orders on a single token.
func (s *ListingStore) BestForToken(ctx context.Context, contract, tokenID string, q domain.FillableQuery) ([]domain.FillableOrder, error) {
	valueCol := "o.value"
	if q.NormalizeRoyalties {
		valueCol = "coalesce(o.normalized_value, o.value)"
	}

	args := []any{"token:" + contract + ":" + tokenID, minQuantity(q), q.Currency, limit(q)}
	tiebreak := "o.fee_bps"
	if q.PreferredSourceID != nil {
		args = append(args, *q.PreferredSourceID)
		tiebreak = "CASE WHEN o.source_id_int = $5 THEN 0 ELSE 1 END"
	}

	query := `SELECT ` + listingCols + listingFrom + `
		WHERE o.token_set_id = $1
		  AND o.side = 'sell'
		  AND o.fillability_status = 'fillable'
		  AND o.approval_status = 'approved'
		  AND (o.taker IS NULL OR o.taker = '` + zeroAddress + `')
		  AND o.quantity_remaining >= $2
		  AND ($3 = '' OR o.currency = $3)
		ORDER BY ` + valueCol + `, ` + tiebreak + `
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: best orders for %s:%s: %w", contract, tokenID, err)
	}
	defer rows.Close()

	var out []domain.FillableOrder
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func minQuantity(q domain.FillableQuery) int64 {
	if q.MinQuantity < 1 {
		return 1
	}
	return q.MinQuantity
}

func limit(q domain.FillableQuery) int {
	if q.Limit < 1 {
		return 1
	}
	return q.Limit
}
