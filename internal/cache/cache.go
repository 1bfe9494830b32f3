// Package cache is the session-scoped read-through cache used by the sync
// engine. It is purely an optimization: a disabled cache misses every Get.
package cache

import (
	"strconv"
	"strings"
	"sync"

	"github.com/salah-ledger/salah/internal/infra/observability"
)

// ─── Keys ───────────────────────────────────────────────────────────────────

const (
	todayPrefix   = "today:"
	dailyPrefix   = "daily:" // per-day content owned by other features
	historyPrefix = "history:"
)

// TodayKey is the key of the cached PrayerDay for dayID.
func TodayKey(dayID string) string { return todayPrefix + dayID }

// HistoryKey is the key of a user's multi-week history.
func HistoryKey(userID string, weeks int) string {
	return HistoryPrefix(userID) + strconv.Itoa(weeks)
}

// HistoryPrefix matches every history key of userID.
func HistoryPrefix(userID string) string { return historyPrefix + userID + ":" }

// ─── Cache ──────────────────────────────────────────────────────────────────

// Cache is a concurrency-safe key/value map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	enabled bool
}

// New creates a cache. A disabled cache stores nothing.
func New(enabled bool) *Cache {
	return &Cache{entries: make(map[string]any), enabled: enabled}
}

// Enabled reports whether the cache stores values.
func (c *Cache) Enabled() bool { return c.enabled }

// Get returns the value under key.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enabled {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		observability.CacheLookups.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Set stores v under key.
func (c *Cache) Set(key string, v any) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// InvalidatePrefix drops every key starting with one of prefixes.
func (c *Cache) InvalidatePrefix(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				delete(c.entries, k)
				break
			}
		}
	}
}

// InvalidateDay drops today's day and all daily content. Used on rollover.
func (c *Cache) InvalidateDay() {
	c.InvalidatePrefix(todayPrefix, dailyPrefix)
}

// InvalidateAll empties the cache. Used on user change.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.mu.Unlock()
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup is a typed Get. A value of another type counts as a miss.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
