package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// TokenSetStore implements domain.TokenSetStore.
type TokenSetStore struct {
	pool *pgxpool.Pool
}

var _ domain.TokenSetStore = (*TokenSetStore)(nil)

// NewTokenSetStore creates a new TokenSetStore.
func NewTokenSetStore(pool *pgxpool.Pool) *TokenSetStore {
	return &TokenSetStore{pool: pool}
}

// EnsureContractWide creates the contract:<c> token set if missing. Members
// are implicit: every token of the contract.
func (s *TokenSetStore) EnsureContractWide(ctx context.Context, contract string) (string, error) {
	id := "contract:" + contract
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_sets (id, contract) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, contract,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: ensure token set %s: %w", id, err)
	}
	return id, nil
}

// EnsureSingleToken creates the token:<c>:<id> token set and its single
// member row if missing.
func (s *TokenSetStore) EnsureSingleToken(ctx context.Context, contract, tokenID string) (string, error) {
	id := "token:" + contract + ":" + tokenID

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO token_sets (id, contract) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, contract)
	batch.Queue(`INSERT INTO token_sets_tokens (token_set_id, contract, token_id)
		VALUES ($1, $2, $3::numeric) ON CONFLICT DO NOTHING`, id, contract, tokenID)

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return "", fmt.Errorf("postgres: ensure token set %s: %w", id, err)
	}
	return id, nil
}
