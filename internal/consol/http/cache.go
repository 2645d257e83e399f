package http

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/consol"
)

const cacheTTL = 5 * time.Minute

type cacheItem struct {
	rows    []consol.WorkingRow
	expires time.Time
}

// workingsCache holds recently listed working rows per tenant, period and
// statement. Saves evict the affected key.
type workingsCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]cacheItem
}

func newWorkingsCache(ttl time.Duration) *workingsCache {
	return &workingsCache{ttl: ttl, now: time.Now, items: make(map[string]cacheItem)}
}

func (c *workingsCache) Get(key string) ([]consol.WorkingRow, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(item.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	return item.rows, true
}

func (c *workingsCache) Set(key string, rows []consol.WorkingRow) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items[key] = cacheItem{rows: rows, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *workingsCache) Evict(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// EvictCompany drops every cached entry of a tenant.
func (c *workingsCache) EvictCompany(companyID uuid.UUID) {
	if c == nil {
		return
	}
	prefix := companyID.String() + "|"
	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

func buildCacheKey(companyID uuid.UUID, period, statementType string) string {
	return fmt.Sprintf("%s|%s|%s", companyID, period, statementType)
}
