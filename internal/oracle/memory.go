package oracle

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// MemoryCache is the process-local first tier. Keys are bounded by
// currency x day so entries are never evicted.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]domain.USDPrice
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.USDPrice)}
}

func (m *MemoryCache) Get(key string) (domain.USDPrice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[key]
	return p, ok
}

func (m *MemoryCache) Set(key string, p domain.USDPrice) {
	m.mu.Lock()
	m.entries[key] = p
	m.mu.Unlock()
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// CacheKey returns "<currency>-<day>" in lowercase.
func CacheKey(currency string, ts time.Time) string {
	return strings.ToLower(currency) + "-" + strconv.FormatInt(domain.DayBucket(ts), 10)
}
