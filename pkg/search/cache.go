// CLAUDE:SUMMARY Index cache keyed by list name and an explicit version token, with singleflight builds and an xxhash guard against stale tokens.
package search

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Cache keeps one Index per named option list. Callers pass a version
// token that must change whenever the list changes; a list that changes
// under the same token is detected by fingerprint, logged and rebuilt.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
	logger  *slog.Logger

	hits   atomic.Uint64
	builds atomic.Uint64
	stale  atomic.Uint64
}

type cacheEntry struct {
	token       uint64
	fingerprint uint64
	index       *Index
}

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Builds  uint64 `json:"builds"`
	Stale   uint64 `json:"stale_tokens"`
}

// NewCache returns an empty cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		logger:  logger.With("component", "search-cache"),
	}
}

// Get returns the index for name at token, building it from options when
// absent or outdated.
func (c *Cache) Get(name string, token uint64, options []string) *Index {
	fp := Fingerprint(options)

	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && e.token == token {
		if e.fingerprint == fp {
			c.hits.Add(1)
			return e.index
		}
		c.stale.Add(1)
		c.logger.Warn("option list changed without a new token", "list", name, "token", token)
	}

	key := fmt.Sprintf("%s\x00%d\x00%x", name, token, fp)
	v, _, _ := c.group.Do(key, func() (any, error) {
		idx := Build(options)
		c.builds.Add(1)
		c.mu.Lock()
		c.entries[name] = cacheEntry{token: token, fingerprint: fp, index: idx}
		c.mu.Unlock()
		c.logger.Debug("index built", "list", name, "token", token, "options", idx.Len())
		return idx, nil
	})
	return v.(*Index)
}

// Invalidate drops the entry for name.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Builds:  c.builds.Load(),
		Stale:   c.stale.Load(),
	}
}

// Fingerprint hashes an option list, order and boundaries included.
func Fingerprint(options []string) uint64 {
	d := xxhash.New()
	for _, o := range options {
		d.WriteString(o)
		d.Write([]byte{0})
	}
	return d.Sum64()
}
