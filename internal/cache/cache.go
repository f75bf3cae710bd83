// Package cache holds the last known stats of every configured site.
package cache

import (
	"sync"
	"time"

	"github.com/leozw/sitestats/internal/core"
)

// Update is one entry of a partial merge. Exactly one of Stats, Err or
// Loading is expected to be set.
type Update struct {
	Stats     *core.Stats
	Err       error
	Loading   bool
	TimeRange core.TimeRange
	At        time.Time
}

// Cache maps site ids to their StatsResult. All methods are safe for
// concurrent use and never observe a half-applied merge.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]core.StatsResult
	timeRange core.TimeRange
}

func New() *Cache {
	return &Cache{entries: make(map[string]core.StatsResult)}
}

func (c *Cache) Get(siteID string) (core.StatsResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.entries[siteID]
	return r, ok
}

// Merge applies updates one entry at a time:
//   - success replaces stats and clears the error
//   - failure keeps previous stats and records the error
//   - loading marks the entry mid-fetch without touching stats or error
func (c *Cache) Merge(updates map[string]Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, u := range updates {
		c.entries[id] = apply(c.entries[id], u)
	}
}

func apply(prev core.StatsResult, u Update) core.StatsResult {
	next := prev
	switch {
	case u.Stats != nil:
		next.Stats = u.Stats
		next.StatsRange = u.TimeRange
		next.Err = nil
		next.Loading = false
		next.FetchedAt = u.At
	case u.Err != nil:
		next.Err = u.Err
		next.Loading = false
		next.FetchedAt = u.At
	case u.Loading:
		next.Loading = true
	}
	return next
}

// MarkLoading flags every listed site that has no stats yet and returns
// the ids it flagged. Sites with warm data are left untouched.
func (c *Cache) MarkLoading(siteIDs []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var marked []string
	for _, id := range siteIDs {
		entry := c.entries[id]
		if entry.Stats != nil {
			continue
		}
		entry.Loading = true
		c.entries[id] = entry
		marked = append(marked, id)
	}
	return marked
}

// IsValidFor reports whether every site has stats fetched for timeRange and
// the cache's current time range is timeRange.
func (c *Cache) IsValidFor(sites []core.Site, timeRange core.TimeRange) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.timeRange != timeRange {
		return false
	}
	for _, s := range sites {
		entry, ok := c.entries[s.ID]
		if !ok || entry.Stats == nil || entry.StatsRange != timeRange {
			return false
		}
	}
	return true
}

func (c *Cache) SetTimeRange(timeRange core.TimeRange) {
	c.mu.Lock()
	c.timeRange = timeRange
	c.mu.Unlock()
}

func (c *Cache) TimeRange() core.TimeRange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeRange
}

func (c *Cache) Drop(siteID string) {
	c.mu.Lock()
	delete(c.entries, siteID)
	c.mu.Unlock()
}

// Retain drops every entry whose id is not in keep and returns the dropped
// ids.
func (c *Cache) Retain(keep []string) []string {
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped []string
	for id := range c.entries {
		if _, ok := set[id]; !ok {
			delete(c.entries, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
