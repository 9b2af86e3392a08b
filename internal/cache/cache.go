package cache

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"marketintel/internal/models"
)

// DefaultTTL is used when a cache is created with a non-positive TTL
const DefaultTTL = 5 * time.Minute

type entry struct {
	report   *models.TrendReport
	storedAt time.Time
}

// TrendCache keeps recently computed trend reports in memory so repeated
// dashboard reads do not re-aggregate the product table.
type TrendCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewTrendCache creates a cache whose entries expire after ttl
func NewTrendCache(ttl time.Duration) *TrendCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TrendCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key builds the cache key of a trend query
func Key(marketplace models.Marketplace, category string, limit int) string {
	return fmt.Sprintf("%s|%s|%d", marketplace, strings.ToLower(strings.TrimSpace(category)), limit)
}

// Get returns a cached report if present and not expired
func (c *TrendCache) Get(key string) (*models.TrendReport, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		log.Printf("⏰ Trend cache expired for %s (%v old)", key, c.now().Sub(e.storedAt).Round(time.Second))
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.report, true
}

// Put stores a report under key
func (c *TrendCache) Put(key string, report *models.TrendReport) {
	if report == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{report: report, storedAt: c.now()}
	c.mu.Unlock()
}

// Age returns how long ago key was stored
func (c *TrendCache) Age(key string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.storedAt), true
}

// Invalidate drops every entry for a marketplace
func (c *TrendCache) Invalidate(marketplace models.Marketplace) int {
	prefix := string(marketplace) + "|"

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (c *TrendCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
