package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// ContractStore implements domain.ContractStore.
type ContractStore struct {
	pool *pgxpool.Pool
}

var _ domain.ContractStore = (*ContractStore)(nil)

// NewContractStore creates a new ContractStore.
func NewContractStore(pool *pgxpool.Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

// GetKind returns the token standard of contract.
func (s *ContractStore) GetKind(ctx context.Context, contract string) (domain.TokenKind, error) {
	var kind string
	err := s.pool.QueryRow(ctx, `SELECT kind FROM contracts WHERE address = $1`, contract).Scan(&kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: get contract kind %s: %w", contract, err)
	}
	return domain.TokenKind(kind), nil
}

// Upsert records the token standard of contract.
func (s *ContractStore) Upsert(ctx context.Context, contract string, kind domain.TokenKind) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contracts (address, kind) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET kind = EXCLUDED.kind`,
		contract, string(kind),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert contract %s: %w", contract, err)
	}
	return nil
}
