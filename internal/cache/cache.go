// Package cache implements a TTL lookaside cache for expensive remote reads.
//
// Each category holds one entry, except tasks, which holds one entry per
// period key. An entry is stale once now - timestamp >= TTL. Fetch failures
// are returned unchanged and never cached.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the freshness window shared by every category.
const DefaultTTL = 5 * time.Minute

// Category names a cached data set.
type Category string

const (
	CategoryRoles       Category = "roles"
	CategoryTeamMembers Category = "teamMembers"
	CategoryTasks       Category = "tasks"
	CategoryDashboard   Category = "dashboard"
	CategoryDelayed     Category = "delayedTasks"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryRoles, CategoryTeamMembers, CategoryTasks, CategoryDashboard, CategoryDelayed}

// Keyed reports whether the category stores one entry per key.
func (c Category) Keyed() bool {
	return c == CategoryTasks
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// FetchFunc loads a fresh value from the source of truth.
type FetchFunc[T any] func(ctx context.Context) (T, error)

type entry struct {
	data      any
	timestamp time.Time
}

// Cache memoizes fetch results per category and key.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Category]*entry
	tasks   map[string]*entry

	coalesce bool
	group    singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCoalescing makes concurrent misses on the same key share one fetch.
// Without it, every concurrent miss fetches and the last write wins.
func WithCoalescing() Option {
	return func(c *Cache) {
		c.coalesce = true
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[Category]*entry),
		tasks:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrFetch returns the cached value for (category, key) while it is fresh and
// otherwise calls fetch and stores its result. key is only used by keyed
// categories. The cache lock is not held while fetch runs.
func GetOrFetch[T any](ctx context.Context, c *Cache, category Category, key string, fetch FetchFunc[T]) (T, error) {
	var zero T
	if !category.Valid() {
		return zero, fmt.Errorf("cache: unknown category %q", category)
	}

	if v, ok := c.lookup(category, key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	if !c.coalesce {
		v, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		c.store(category, key, v)
		return v, nil
	}

	v, err, _ := c.group.Do(flightKey(category, key), func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(category, key, v)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T, not the requested type", flightKey(category, key), v)
	}
	return typed, nil
}

func flightKey(category Category, key string) string {
	if category.Keyed() {
		return string(category) + "/" + key
	}
	return string(category)
}

func (c *Cache) lookup(category Category, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.slot(category, key)
	if e == nil {
		return nil, false
	}
	if c.now().Sub(e.timestamp) >= c.ttl {
		return nil, false
	}
	return e.data, true
}

func (c *Cache) slot(category Category, key string) *entry {
	if category.Keyed() {
		return c.tasks[key]
	}
	return c.entries[category]
}

// store swaps the whole entry in one step.
func (c *Cache) store(category Category, key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{data: v, timestamp: c.now()}
	if category.Keyed() {
		c.tasks[key] = e
		return
	}
	c.entries[category] = e
}

// Invalidate clears one entry. For keyed categories an empty key clears every
// key. Invalidating an absent entry is a no-op.
func (c *Cache) Invalidate(category Category, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category.Keyed() {
		if key == "" {
			c.tasks = make(map[string]*entry)
			return
		}
		delete(c.tasks, key)
		return
	}
	delete(c.entries, category)
}

// ClearAll resets every category to empty.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Category]*entry)
	c.tasks = make(map[string]*entry)
}

// EntryStats describes a single-entry category.
type EntryStats struct {
	Cached    bool       `json:"cached"`
	Timestamp *time.Time `json:"timestamp"`
}

// KeyedStats describes a keyed category.
type KeyedStats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// Stats is a point-in-time view of what the cache holds. Stale entries that
// have not been refetched still count as cached.
type Stats struct {
	Roles       EntryStats `json:"roles"`
	TeamMembers EntryStats `json:"teamMembers"`
	Tasks       KeyedStats `json:"tasks"`
	Dashboard   EntryStats `json:"dashboard"`
	Delayed     EntryStats `json:"delayedTasks"`
}

// Stats reports the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.tasks))
	for k := range c.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return Stats{
		Roles:       c.entryStats(CategoryRoles),
		TeamMembers: c.entryStats(CategoryTeamMembers),
		Tasks:       KeyedStats{Count: len(keys), Keys: keys},
		Dashboard:   c.entryStats(CategoryDashboard),
		Delayed:     c.entryStats(CategoryDelayed),
	}
}

func (c *Cache) entryStats(category Category) EntryStats {
	e, ok := c.entries[category]
	if !ok {
		return EntryStats{}
	}
	ts := e.timestamp
	return EntryStats{Cached: true, Timestamp: &ts}
}
