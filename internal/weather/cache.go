package weather

import (
	"context"
	"sync"
	"time"
)

// slot guards one cached snapshot. The slot mutex is held for the entire
// refresh, so concurrent callers for the same key serialize: one fetches,
// the rest read the fresh result. Entries are replaced whole, never
// partially updated.
type slot struct {
	mu        sync.Mutex
	fetchedAt time.Time
	value     any
}

// cache maps (operation, location) keys to guarded slots. Entries are only
// superseded by fresher fetches for the same key; a purge of entries older
// than staleMax bounds memory but is advisory, not correctness-critical.
type cache struct {
	mu       sync.Mutex
	slots    map[string]*slot
	ttl      time.Duration
	staleMax time.Duration
	now      func() time.Time // injectable clock for tests
}

func newCache(ttl, staleMax time.Duration) *cache {
	return &cache{
		slots:    make(map[string]*slot),
		ttl:      ttl,
		staleMax: staleMax,
		now:      time.Now,
	}
}

// acquire returns the slot for key, creating it if missing.
func (c *cache) acquire(key string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// purge drops slots whose snapshot is older than staleMax. Holders of an
// in-flight *slot keep their pointer, so removal never tears a read.
func (c *cache) purge() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, s := range c.slots {
		if s.mu.TryLock() {
			old := !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) > c.staleMax
			s.mu.Unlock()
			if old {
				delete(c.slots, key)
			}
		}
	}
}

// getOrFetch returns the cached value for key if it is younger than the TTL;
// otherwise it calls fetch and atomically replaces the slot contents. A
// failed refresh leaves the prior snapshot in place and returns it
// (stale=true); with no prior snapshot the fetch error propagates.
func getOrFetch[T any](ctx context.Context, c *cache, key string, fetch func(context.Context) (T, error)) (value T, stale bool, err error) {
	s := c.acquire(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) < c.ttl {
		return s.value.(T), false, nil
	}

	fetched, ferr := fetch(ctx)
	if ferr != nil {
		if !s.fetchedAt.IsZero() {
			// Prefer slightly stale data over failing the turn.
			return s.value.(T), true, nil
		}
		var zero T
		return zero, false, ferr
	}

	s.value = fetched
	s.fetchedAt = c.now()
	return fetched, false, nil
}
