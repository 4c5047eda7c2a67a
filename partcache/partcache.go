// Package partcache implements the coordinator's bounded, LRU-evicted
// cache of loaded partitions, with concurrent misses on the same
// partition id collapsed into a single disk load.
package partcache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/evtdb/eventindex/partition"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Factory loads a partition from disk given its id. Returning
// errs.ErrNoSuchFile signals "this partition id is unknown on disk".
type Factory func(id uuid.UUID) (*partition.Partition, error)

// Cache is owned solely by the coordinator task (spec section 5); it is
// still safe for concurrent Get calls since several evaluators may race
// to load the same cold partition.
type Cache struct {
	capacity int
	factory  Factory

	mu    sync.Mutex
	order []uuid.UUID // front = most recently used
	items map[uuid.UUID]*partition.Partition

	loads singleflight.Group
}

func New(capacity int, factory Factory) *Cache {
	return &Cache{
		capacity: capacity,
		factory:  factory,
		items:    make(map[uuid.UUID]*partition.Partition),
	}
}

// Get returns the cached partition for id, loading it via the factory on
// a miss. Concurrent misses for the same id share one factory call.
func (c *Cache) Get(id uuid.UUID) (*partition.Partition, error) {
	if p := c.lockedLookup(id); p != nil {
		return p, nil
	}

	v, err, _ := c.loads.Do(id.String(), func() (any, error) {
		return c.factory(id)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*partition.Partition)
	c.insert(id, p)
	return p, nil
}

// Contains reports whether id is currently resident without triggering a
// load.
func (c *Cache) Contains(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Ids returns every currently cached partition id, most recently used
// first.
func (c *Cache) Ids() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Cache) lockedLookup(id uuid.UUID) *partition.Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[id]
	if !ok {
		return nil
	}
	c.touchLocked(id)
	return p
}

func (c *Cache) insert(id uuid.UUID, p *partition.Partition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; ok {
		c.touchLocked(id)
		return
	}

	c.items[id] = p
	c.order = append([]uuid.UUID{id}, c.order...)

	for len(c.order) > c.capacity {
		evictID := c.order[len(c.order)-1]
		c.order = c.order[:len(c.order)-1]
		evicted := c.items[evictID]
		delete(c.items, evictID)
		// Best-effort: the partition's final flush must have already
		// happened for eviction to be safe (spec section 3's column-index
		// lifecycle), so a flush failure here is reported but does not
		// block the eviction itself.
		if err := evicted.FlushToDisk(); err != nil {
			slog.Warn("partition cache eviction flush failed", "partition", evictID, "error", err)
		}
	}
}

func (c *Cache) touchLocked(id uuid.UUID) {
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append([]uuid.UUID{id}, c.order...)
}

// Evict removes id from the cache, flushing it first. An id that is not
// cached is a no-op. The coordinator does not call it; its Shutdown flushes
// only the active and unpersisted partitions.
func (c *Cache) Evict(id uuid.UUID) error {
	c.mu.Lock()
	p, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := p.FlushToDisk(); err != nil {
		return fmt.Errorf("partition cache: evicting %s: %w", id, err)
	}
	return nil
}
