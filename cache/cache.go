// Package cache keeps the latest results in memory in front of the store so
// the API and the bot do not hit the database on every read.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/use-agent/paywatch/store"
)

// allKey is the entry holding the LatestAll listing.
const allKey = "\x00all"

// entry holds cached records with their creation timestamp.
type entry struct {
	records   []store.Record
	createdAt time.Time
}

// Results is a read-through cache of latest results. It is safe for
// concurrent use. Invalidate must be called after every batch.
type Results struct {
	backend store.Store
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// New wraps backend. A ttl <= 0 disables caching.
func New(backend store.Store, ttl time.Duration) *Results {
	return &Results{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// LatestAll returns the latest result of every site.
func (c *Results) LatestAll(ctx context.Context) ([]store.Record, error) {
	if recs, ok := c.get(allKey); ok {
		return recs, nil
	}
	recs, err := c.backend.LatestAll(ctx)
	if err != nil {
		return nil, err
	}
	c.set(allKey, recs)
	return recs, nil
}

// LatestBySite returns the site's latest result, or nil if it has none.
// Misses are not cached.
func (c *Results) LatestBySite(ctx context.Context, siteID string) (*store.Record, error) {
	if recs, ok := c.get(siteID); ok {
		rec := recs[0]
		return &rec, nil
	}
	rec, err := c.backend.LatestBySite(ctx, siteID)
	if err != nil || rec == nil {
		return rec, err
	}
	c.set(siteID, []store.Record{*rec})
	return rec, nil
}

// Invalidate drops every entry.
func (c *Results) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *Results) get(key string) ([]store.Record, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}
	return e.records, true
}

func (c *Results) set(key string, recs []store.Record) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{records: recs, createdAt: c.now()}
}
