package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// SourceStore implements domain.SourceStore over sources_v2.
type SourceStore struct {
	pool *pgxpool.Pool
}

var _ domain.SourceStore = (*SourceStore)(nil)

// NewSourceStore creates a new SourceStore.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

const sourceCols = `id, domain, domain_hash, name, address, metadata`

func scanSource(scanner interface{ Scan(dest ...any) error }) (domain.Source, error) {
	var (
		src  domain.Source
		meta []byte
	)
	if err := scanner.Scan(&src.ID, &src.Domain, &src.DomainHash, &src.Name, &src.Address, &meta); err != nil {
		return domain.Source{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &src.Metadata); err != nil {
			return domain.Source{}, fmt.Errorf("decode source metadata: %w", err)
		}
	}
	return src, nil
}

// List returns every source ordered by id.
func (s *SourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceCols+` FROM sources_v2 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Insert creates a source row. When the domain already exists the stored row
// is returned unchanged.
func (s *SourceStore) Insert(ctx context.Context, src domain.Source) (domain.Source, error) {
	meta, err := json.Marshal(src.Metadata)
	if err != nil {
		return domain.Source{}, fmt.Errorf("postgres: encode source metadata %s: %w", src.Domain, err)
	}
	if src.Metadata == nil {
		meta = []byte("{}")
	}

	const insert = `
		INSERT INTO sources_v2 (domain, domain_hash, name, address, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain) DO NOTHING
		RETURNING ` + sourceCols

	out, err := scanSource(s.pool.QueryRow(ctx, insert, src.Domain, src.DomainHash, src.Name, src.Address, meta))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Source{}, fmt.Errorf("postgres: insert source %s: %w", src.Domain, err)
	}

	// Lost the race to a concurrent insert.
	out, err = scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceCols+` FROM sources_v2 WHERE domain = $1`, src.Domain))
	if err != nil {
		return domain.Source{}, fmt.Errorf("postgres: load source %s: %w", src.Domain, err)
	}
	return out, nil
}
