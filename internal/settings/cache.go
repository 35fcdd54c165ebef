package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSeedMaxAge bounds how old a persisted status may be and still seed
// an initial render.
const DefaultSeedMaxAge = 10 * time.Minute

// Status is the connection status of one mailbox provider as reported by
// the backend.
type Status struct {
	Connected bool   `json:"connected"`
	Email     string `json:"email"`
}

// Store is the persisted fallback behind the in-memory cache. It is a
// seed-only layer: values read from it are never authoritative once an
// in-memory entry exists.
type Store interface {
	Load(key string) (Status, time.Time, bool, error)
	Save(key string, st Status, fetchedAt time.Time) error
	Delete(key string) error
}

// FetchFunc retrieves the live status for a key from the backend.
type FetchFunc func(ctx context.Context, key string) (Status, error)

type entry struct {
	status    Status
	fetchedAt time.Time
}

// Cache is the process-wide connection-status cache. Concurrent Gets under
// one key share a single in-flight fetch; Invalidate drops both layers and
// any in-flight result so the next Get hits the network again.
type Cache struct {
	fetch      FetchFunc
	store      Store
	seedMaxAge time.Duration
	now        func() time.Time

	group singleflight.Group

	mu  sync.Mutex
	mem map[string]entry
	gen map[string]uint64
}

// Options tunes a Cache. The zero value is usable.
type Options struct {
	// Store is the persisted fallback. Nil disables seeding.
	Store Store
	// SeedMaxAge overrides DefaultSeedMaxAge.
	SeedMaxAge time.Duration
}

func NewCache(fetch FetchFunc, opts Options) *Cache {
	age := opts.SeedMaxAge
	if age <= 0 {
		age = DefaultSeedMaxAge
	}
	return &Cache{
		fetch:      fetch,
		store:      opts.Store,
		seedMaxAge: age,
		now:        time.Now,
		mem:        make(map[string]entry),
		gen:        make(map[string]uint64),
	}
}

// Get returns the cached status for key, fetching it if absent. Callers
// that arrive while a fetch is in flight wait on that same fetch.
func (c *Cache) Get(ctx context.Context, key string) (Status, error) {
	c.mu.Lock()
	if e, ok := c.mem[key]; ok {
		c.mu.Unlock()
		return e.status, nil
	}
	startGen := c.gen[key]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		st, err := c.fetch(ctx, key)
		if err != nil {
			return Status{}, fmt.Errorf("failed to fetch connection status for %s: %w", key, err)
		}
		fetchedAt := c.now()

		// An Invalidate that landed while the fetch was in flight bumps
		// the generation; the result is then returned but not cached.
		c.mu.Lock()
		stale := c.gen[key] != startGen
		if !stale {
			c.mem[key] = entry{status: st, fetchedAt: fetchedAt}
		}
		c.mu.Unlock()

		if !stale && c.store != nil {
			_ = c.store.Save(key, st, fetchedAt)
		}
		return st, nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

// Seed returns a value suitable for a first render before Get has resolved:
// the in-memory entry when present, otherwise the persisted fallback if its
// recorded age is under the ceiling. It never populates the in-memory layer
// and never touches the network.
func (c *Cache) Seed(key string) (Status, bool) {
	c.mu.Lock()
	if e, ok := c.mem[key]; ok {
		c.mu.Unlock()
		return e.status, true
	}
	c.mu.Unlock()

	if c.store == nil {
		return Status{}, false
	}
	st, fetchedAt, ok, err := c.store.Load(key)
	if err != nil || !ok {
		return Status{}, false
	}
	if c.now().Sub(fetchedAt) > c.seedMaxAge {
		return Status{}, false
	}
	return st, true
}

// Invalidate drops the key from both layers and forgets any in-flight
// fetch, forcing the next Get to issue a fresh request.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.gen[key]++
	c.mu.Unlock()

	c.group.Forget(key)
	if c.store != nil {
		_ = c.store.Delete(key)
	}
}

// Dispose clears the in-memory layer. The persisted store is left alone so
// the next session can still seed from it.
func (c *Cache) Dispose() {
	c.mu.Lock()
	c.mem = make(map[string]entry)
	c.mu.Unlock()
}
