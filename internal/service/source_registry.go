package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const sourcesCacheTTL = 24 * time.Hour

// SourceRegistry is the read-only snapshot of marketplace sources. Lookups
// never touch the network; Reload and GetOrInsert replace the snapshot
// atomically.
type SourceRegistry struct {
	store  domain.SourceStore
	cache  domain.SourceCache
	logger *slog.Logger

	snapshot atomic.Pointer[sourceSnapshot]
	insertMu sync.Mutex
}

type sourceSnapshot struct {
	byID         map[int]domain.Source
	byDomain     map[string]domain.Source
	byName       map[string]domain.Source
	byAddress    map[string]domain.Source
	byDomainHash map[string]domain.Source
}

func newSourceSnapshot(sources []domain.Source) *sourceSnapshot {
	s := &sourceSnapshot{
		byID:         make(map[int]domain.Source, len(sources)),
		byDomain:     make(map[string]domain.Source, len(sources)),
		byName:       make(map[string]domain.Source, len(sources)),
		byAddress:    make(map[string]domain.Source, len(sources)),
		byDomainHash: make(map[string]domain.Source, len(sources)),
	}
	for _, src := range sources {
		s.byID[src.ID] = src
		s.byDomain[strings.ToLower(src.Domain)] = src
		s.byName[strings.ToLower(src.Name)] = src
		s.byAddress[strings.ToLower(src.Address)] = src
		s.byDomainHash[strings.ToLower(src.DomainHash)] = src
	}
	return s
}

func (s *sourceSnapshot) list() []domain.Source {
	out := make([]domain.Source, 0, len(s.byID))
	for _, src := range s.byID {
		out = append(out, src)
	}
	return out
}

// NewSourceRegistry creates an empty SourceRegistry. cache may be nil. Call
// Reload before serving lookups.
func NewSourceRegistry(store domain.SourceStore, cache domain.SourceCache, logger *slog.Logger) *SourceRegistry {
	r := &SourceRegistry{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "source_registry")),
	}
	r.snapshot.Store(newSourceSnapshot(nil))
	return r
}

// Reload loads the snapshot from the shared cache, or from the database when
// the cache is cold, and installs it.
func (r *SourceRegistry) Reload(ctx context.Context) error {
	return r.reload(ctx, false)
}

func (r *SourceRegistry) reload(ctx context.Context, fromDB bool) error {
	if !fromDB && r.cache != nil {
		sources, err := r.cache.GetSources(ctx)
		if err == nil {
			r.snapshot.Store(newSourceSnapshot(sources))
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("source_registry: cache read failed", slog.String("error", err.Error()))
		}
	}

	sources, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("source_registry: reload: %w", err)
	}
	r.snapshot.Store(newSourceSnapshot(sources))

	if r.cache != nil {
		if err := r.cache.SetSources(ctx, sources, sourcesCacheTTL); err != nil {
			r.logger.Warn("source_registry: cache write failed", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("source_registry: reloaded", slog.Int("sources", len(sources)))
	return nil
}

func (r *SourceRegistry) ByID(id int) (domain.Source, bool) {
	src, ok := r.snapshot.Load().byID[id]
	return src, ok
}

func (r *SourceRegistry) ByDomain(d string) (domain.Source, bool) {
	src, ok := r.snapshot.Load().byDomain[strings.ToLower(d)]
	return src, ok
}

func (r *SourceRegistry) ByName(name string) (domain.Source, bool) {
	src, ok := r.snapshot.Load().byName[strings.ToLower(name)]
	return src, ok
}

func (r *SourceRegistry) ByAddress(addr string) (domain.Source, bool) {
	src, ok := r.snapshot.Load().byAddress[strings.ToLower(addr)]
	return src, ok
}

func (r *SourceRegistry) ByDomainHash(hash string) (domain.Source, bool) {
	src, ok := r.snapshot.Load().byDomainHash[strings.ToLower(hash)]
	return src, ok
}

// List returns every known source.
func (r *SourceRegistry) List() []domain.Source {
	return r.snapshot.Load().list()
}

// GetOrInsert resolves a source given as an address, a name or a domain,
// creating a domain source when none matches.
func (r *SourceRegistry) GetOrInsert(ctx context.Context, source string) (domain.Source, error) {
	if common.IsHexAddress(source) {
		if src, ok := r.ByAddress(source); ok {
			return src, nil
		}
		return r.create(ctx, source, strings.ToLower(source))
	}
	if src, ok := r.ByName(source); ok {
		return src, nil
	}
	if src, ok := r.ByDomain(source); ok {
		return src, nil
	}

	var addr [common.AddressLength]byte
	if _, err := rand.Read(addr[:]); err != nil {
		return domain.Source{}, fmt.Errorf("source_registry: random address: %w", err)
	}
	return r.create(ctx, source, strings.ToLower(common.BytesToAddress(addr[:]).Hex()))
}

func (r *SourceRegistry) create(ctx context.Context, d, address string) (domain.Source, error) {
	r.insertMu.Lock()
	defer r.insertMu.Unlock()

	if src, ok := r.ByDomain(d); ok {
		return src, nil
	}

	src, err := r.store.Insert(ctx, domain.Source{
		Domain:     d,
		DomainHash: DomainHash(d),
		Name:       d,
		Address:    address,
	})
	if err != nil {
		return domain.Source{}, fmt.Errorf("source_registry: insert %s: %w", d, err)
	}

	if err := r.reload(ctx, true); err != nil {
		// The row exists; serve it even though the snapshot is stale.
		r.logger.Warn("source_registry: reload after insert failed", slog.String("error", err.Error()))
		sources := append(r.List(), src)
		r.snapshot.Store(newSourceSnapshot(sources))
	}
	r.logger.Info("source_registry: new source", slog.String("domain", d), slog.Int("id", src.ID))
	return src, nil
}

// DomainHash returns the first four bytes of keccak256(domain) as 0x hex.
func DomainHash(d string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(d))[:4])
}
