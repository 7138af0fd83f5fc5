// ABOUTME: Thread-safe TTL cache for deduplicating webhook deliveries
// ABOUTME: Gateways redeliver on timeout; a seen message id must not be processed twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks recently seen message ids so redelivered webhooks are
// dropped instead of reprocessed. Bounded by both a TTL and a maximum size;
// insertion order is kept in a linked list for O(1) eviction. Expired
// entries are pruned lazily on writes, so no background goroutine is
// needed.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache that remembers ids for ttl, holding at most maxSize.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen atomically checks whether id was already recorded and records it if
// not. Returns true for a duplicate delivery. The check-and-record pair is
// atomic so two concurrent deliveries of the same id cannot both pass.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneExpired(now)

	if e, ok := c.seen[id]; ok && now.Sub(e.seenAt) < c.ttl {
		return true
	}
	c.record(id, now)
	return false
}

// Contains reports whether id is currently tracked without recording it.
// Callers that must not remember an id until side effects have committed
// pair this with Record.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[id]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// Record marks id as seen, refreshing it if already tracked.
func (c *Cache) Record(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneExpired(now)
	c.record(id, now)
}

// Len returns the number of tracked ids, including any not yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) record(id string, now time.Time) {
	if e, ok := c.seen[id]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	for len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.seen, front.Value.(string))
	}

	c.seen[id] = &entry{seenAt: now, element: c.order.PushBack(id)}
}

// pruneExpired walks from the oldest insertion and drops expired entries.
// Refreshed ids move to the back on record, so the walk can stop at the
// first live entry.
func (c *Cache) pruneExpired(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		id := front.Value.(string)
		e := c.seen[id]
		if e == nil {
			c.order.Remove(front)
			continue
		}
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, id)
	}
}
