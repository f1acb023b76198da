package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// RoyaltyStore implements domain.RoyaltyStore. Schedules live in
// collections.new_royalties as {"<scheme>": [{recipient, bps}, ...]}.
type RoyaltyStore struct {
	pool *pgxpool.Pool
}

var _ domain.RoyaltyStore = (*RoyaltyStore)(nil)

// NewRoyaltyStore creates a new RoyaltyStore.
func NewRoyaltyStore(pool *pgxpool.Pool) *RoyaltyStore {
	return &RoyaltyStore{pool: pool}
}

// GetRoyalties resolves tokenSetKey (contract:<c> or token:<c>:<id>) to its
// collection and returns the schedule stored under scheme.
func (s *RoyaltyStore) GetRoyalties(ctx context.Context, tokenSetKey, scheme string) ([]domain.Royalty, error) {
	contract, tokenID, err := splitTokenSetKey(tokenSetKey)
	if err != nil {
		return nil, err
	}

	// A token resolves through its collection; a contract-wide key (or a
	// token without a collection) falls back to the collection whose id is
	// the contract address.
	const query = `
		SELECT coalesce(c.new_royalties -> $3::text, '[]'::jsonb)
		FROM collections c
		WHERE c.id = coalesce(
			(SELECT t.collection_id FROM tokens t
			 WHERE t.contract = $1 AND $2 <> '' AND t.token_id = nullif($2, '')::numeric),
			$1
		)`

	var raw []byte
	rows, err := s.pool.Query(ctx, query, contract, tokenID, scheme)
	if err != nil {
		return nil, fmt.Errorf("postgres: get royalties %s: %w", tokenSetKey, err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan royalties %s: %w", tokenSetKey, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get royalties %s: %w", tokenSetKey, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var out []domain.Royalty
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("postgres: decode royalties %s: %w", tokenSetKey, err)
	}
	return out, nil
}

func splitTokenSetKey(key string) (contract, tokenID string, err error) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == "contract":
		return parts[1], "", nil
	case len(parts) == 3 && parts[0] == "token":
		return parts[1], parts[2], nil
	default:
		return "", "", fmt.Errorf("postgres: unsupported token set key %q", key)
	}
}
