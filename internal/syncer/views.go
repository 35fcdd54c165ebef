package syncer

import "sync"

// View identifies one cached read slice of the mailbox UI. Views never hold
// payloads here; the cache only tracks staleness so that consumers know when
// to refetch.
type View string

const (
	// ViewProviders is the unscoped provider list.
	ViewProviders View = "providers"
	// ViewStats is the unified counters view across all providers.
	ViewStats View = "stats"
)

// MessagesView returns the view key for one provider's message list.
func MessagesView(providerID string) View {
	return View("messages/" + providerID)
}

// ViewCache tracks which views are stale and fans the fresh-to-stale edge
// out to watchers. Invalidating an already-stale view is a no-op, so a burst
// of events costs each affected view at most one refresh cycle.
type ViewCache struct {
	mu       sync.Mutex
	stale    map[View]struct{}
	watchers map[int]func(View)
	nextID   int
}

func NewViewCache() *ViewCache {
	return &ViewCache{
		stale:    make(map[View]struct{}),
		watchers: make(map[int]func(View)),
	}
}

// Invalidate marks the given views stale. Watchers are notified once per
// view that actually transitioned; repeated invalidation is silent.
func (c *ViewCache) Invalidate(views ...View) {
	var notify []func(View)
	var changed []View

	c.mu.Lock()
	for _, v := range views {
		if _, already := c.stale[v]; already {
			continue
		}
		c.stale[v] = struct{}{}
		changed = append(changed, v)
	}
	if len(changed) > 0 {
		notify = make([]func(View), 0, len(c.watchers))
		for _, fn := range c.watchers {
			notify = append(notify, fn)
		}
	}
	c.mu.Unlock()

	for _, v := range changed {
		for _, fn := range notify {
			fn(v)
		}
	}
}

// MarkFresh records that a consumer refetched the view.
func (c *ViewCache) MarkFresh(v View) {
	c.mu.Lock()
	delete(c.stale, v)
	c.mu.Unlock()
}

// IsStale reports whether the view needs a refetch.
func (c *ViewCache) IsStale(v View) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[v]
	return ok
}

// Watch registers fn to run on every fresh-to-stale transition. The
// returned func detaches the watcher; it is safe to call more than once.
func (c *ViewCache) Watch(fn func(View)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}
