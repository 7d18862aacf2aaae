package enrich

import (
	"sync"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

type cachedProduct struct {
	keyword string
	record  *models.ProductRecord
}

// IdentifierCache remembers, for the lifetime of one run, the keyword under
// which each identifier was first seen and the record captured then. The
// first write for an identifier wins.
type IdentifierCache struct {
	mu      sync.RWMutex
	entries map[string]cachedProduct
}

func NewIdentifierCache() *IdentifierCache {
	return &IdentifierCache{
		entries: make(map[string]cachedProduct),
	}
}

// Lookup returns a copy of the first-seen record and its keyword.
func (c *IdentifierCache) Lookup(asin string) (string, *models.ProductRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[asin]
	if !ok {
		return "", nil, false
	}
	return entry.keyword, entry.record.Clone(), true
}

// Store records asin under keyword unless it is already present and reports
// whether the record was stored.
func (c *IdentifierCache) Store(asin, keyword string, record *models.ProductRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[asin]; exists {
		return false
	}
	c.entries[asin] = cachedProduct{keyword: keyword, record: record.Clone()}
	return true
}

func (c *IdentifierCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
