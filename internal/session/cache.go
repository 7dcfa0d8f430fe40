package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/storage"
)

// entry is one resident session. genMu serializes turn generation for the
// session; eviction and checkpointing only touch an entry whose genMu they
// can take without blocking.
type entry struct {
	session    *Session
	genMu      sync.Mutex
	elem       *list.Element
	lastAccess time.Time
}

// cache is the bounded least-recently-used resident set, backed by the
// store. At most one mutable in-memory copy exists per session id.
type cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	order    *list.List // front = most recently used; element values are ids
	store    *storage.Store
	onEvict  func(id string)
	now      func() time.Time
}

func newCache(capacity int, store *storage.Store, now func() time.Time, onEvict func(id string)) *cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &cache{
		capacity: capacity,
		entries:  make(map[string]*entry),
		order:    list.New(),
		store:    store,
		onEvict:  onEvict,
		now:      now,
	}
}

// lookup returns the resident entry for id, refreshing its recency.
func (c *cache) lookup(id string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[id]
	if !ok {
		return nil
	}
	ent.lastAccess = c.now()
	c.order.MoveToFront(ent.elem)
	return ent
}

// peek returns the resident entry for id without touching recency. Used by
// the background checkpoint path so checkpoints do not pin sessions in the
// cache.
func (c *cache) peek(id string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

// insert makes a session resident and evicts past capacity. The returned
// entry is the resident copy; if the id was already resident the existing
// entry wins.
func (c *cache) insert(ctx context.Context, s *Session) *entry {
	c.mu.Lock()
	if existing, ok := c.entries[s.ID]; ok {
		existing.lastAccess = c.now()
		c.order.MoveToFront(existing.elem)
		c.mu.Unlock()
		return existing
	}

	ent := &entry{session: s, lastAccess: c.now()}
	ent.elem = c.order.PushFront(s.ID)
	c.entries[s.ID] = ent
	c.mu.Unlock()

	c.evictIfNeeded(ctx)
	return ent
}

// remove detaches an entry without flushing it.
func (c *cache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[id]; ok {
		c.order.Remove(ent.elem)
		delete(c.entries, id)
	}
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictIfNeeded drops least-recently-used entries until the cache is back
// under capacity, flushing each victim to the store first. Entries whose
// generation lock is held are never evicted; the next-oldest is taken
// instead. A victim whose flush fails is reinstated so no state is lost.
func (c *cache) evictIfNeeded(ctx context.Context) {
	for {
		victim := c.takeVictim()
		if victim == nil {
			return
		}

		if err := c.store.Save(ctx, victim.session.ID, victim.session); err != nil {
			logging.Error().Str("session_id", victim.session.ID).Err(err).
				Msg("failed to flush session before eviction, keeping resident")
			c.reinstate(victim)
			victim.genMu.Unlock()
			return
		}
		victim.genMu.Unlock()

		logging.Info().Str("session_id", victim.session.ID).Msg("evicted LRU session to free memory")
		if c.onEvict != nil {
			c.onEvict(victim.session.ID)
		}
	}
}

// takeVictim detaches the oldest evictable entry, returning it with its
// generation lock held, or nil when the cache is within capacity.
func (c *cache) takeVictim() *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) <= c.capacity {
		return nil
	}

	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		id := elem.Value.(string)
		ent := c.entries[id]
		if !ent.genMu.TryLock() {
			continue // mid-generation, skip
		}
		c.order.Remove(elem)
		delete(c.entries, id)
		return ent
	}
	return nil
}

// reinstate puts a failed eviction victim back as most recently used.
func (c *cache) reinstate(ent *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent.elem = c.order.PushFront(ent.session.ID)
	c.entries[ent.session.ID] = ent
}

// idleEntries returns ids of non-active residents not accessed since the
// cutoff. Status is read under the entry's generation lock; an entry
// mid-generation is not idle and is skipped.
func (c *cache) idleEntries(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, ent := range c.entries {
		if !ent.lastAccess.Before(cutoff) {
			continue
		}
		if !ent.genMu.TryLock() {
			continue
		}
		idle := ent.session.Status != StatusActive
		ent.genMu.Unlock()
		if idle {
			ids = append(ids, id)
		}
	}
	return ids
}

// residents returns the ids of every resident session.
func (c *cache) residents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}
