package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

type memSources struct {
	rows    []domain.Source
	inserts int
}

func (s *memSources) List(context.Context) ([]domain.Source, error) {
	return append([]domain.Source(nil), s.rows...), nil
}

func (s *memSources) Insert(_ context.Context, src domain.Source) (domain.Source, error) {
	s.inserts++
	src.ID = len(s.rows) + 1
	s.rows = append(s.rows, src)
	return src, nil
}

type memSourceCache struct {
	sources []domain.Source
}

func (c *memSourceCache) GetSources(context.Context) ([]domain.Source, error) {
	if c.sources == nil {
		return nil, domain.ErrNotFound
	}
	return c.sources, nil
}

func (c *memSourceCache) SetSources(_ context.Context, sources []domain.Source, _ time.Duration) error {
	c.sources = sources
	return nil
}

func seededRegistry(t *testing.T) (*SourceRegistry, *memSources) {
	t.Helper()
	store := &memSources{rows: []domain.Source{{
		ID:         1,
		Domain:     "opensea.io",
		DomainHash: DomainHash("opensea.io"),
		Name:       "OpenSea",
		Address:    "0x5b3256965e7c3cf26e11fcaf296dfc8807c01073",
	}}}
	r := NewSourceRegistry(store, nil, discardLogger())
	require.NoError(t, r.Reload(context.Background()))
	return r, store
}

func TestSourceRegistryGetOrInsertFindsExisting(t *testing.T) {
	r, store := seededRegistry(t)
	ctx := context.Background()

	for _, key := range []string{"opensea", "OpenSea", "opensea.io", "0x5B3256965E7C3CF26E11FCAF296DFC8807C01073"} {
		src, err := r.GetOrInsert(ctx, key)
		require.NoError(t, err, key)
		require.Equal(t, 1, src.ID, key)
	}
	require.Zero(t, store.inserts)
}

func TestSourceRegistryGetOrInsertCreatesDomainSource(t *testing.T) {
	r, store := seededRegistry(t)
	ctx := context.Background()

	src, err := r.GetOrInsert(ctx, "blur.io")
	require.NoError(t, err)
	require.Equal(t, 2, src.ID)
	require.Equal(t, "blur.io", src.Domain)
	require.Equal(t, DomainHash("blur.io"), src.DomainHash)
	require.True(t, common.IsHexAddress(src.Address))
	require.Equal(t, strings.ToLower(src.Address), src.Address)

	again, err := r.GetOrInsert(ctx, "blur.io")
	require.NoError(t, err)
	require.Equal(t, src.ID, again.ID)
	require.Equal(t, 1, store.inserts)

	got, ok := r.ByDomainHash(DomainHash("blur.io"))
	require.True(t, ok)
	require.Equal(t, src.ID, got.ID)
}

func TestSourceRegistryGetOrInsertCreatesAddressSource(t *testing.T) {
	r, store := seededRegistry(t)
	addr := "0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC"

	src, err := r.GetOrInsert(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, strings.ToLower(addr), src.Address)
	require.Equal(t, 1, store.inserts)

	got, ok := r.ByAddress(addr)
	require.True(t, ok)
	require.Equal(t, src.ID, got.ID)
}

func TestSourceRegistryReloadPrefersCache(t *testing.T) {
	store := &memSources{rows: []domain.Source{{ID: 1, Domain: "opensea.io", Name: "OpenSea"}}}
	cache := &memSourceCache{}
	ctx := context.Background()

	r := NewSourceRegistry(store, cache, discardLogger())
	require.NoError(t, r.Reload(ctx))
	require.Len(t, cache.sources, 1)

	cache.sources = append(cache.sources, domain.Source{ID: 9, Domain: "x2y2.io", Name: "X2Y2"})
	require.NoError(t, r.Reload(ctx))
	src, ok := r.ByID(9)
	require.True(t, ok)
	require.Equal(t, "X2Y2", src.Name)
	require.Len(t, r.List(), 2)
}

func TestDomainHash(t *testing.T) {
	h := DomainHash("opensea.io")
	require.Len(t, h, 10)
	require.True(t, strings.HasPrefix(h, "0x"))
	require.Equal(t, h, DomainHash("opensea.io"))
	require.NotEqual(t, h, DomainHash("blur.io"))
}
