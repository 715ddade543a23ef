package monitor

import (
	"container/list"
	"sync"
)

// DefaultSeenCapacity bounds the seen cache when no capacity is configured.
const DefaultSeenCapacity = 10000

// seenCache remembers the most recently processed threat IDs. When full, the
// least recently seen ID is evicted.
type seenCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newSeenCache(capacity int) *seenCache {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &seenCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// visit records id and reports whether it was already present.
func (c *seenCache) visit(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		return true
	}
	c.index[id] = c.order.PushFront(id)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
	return false
}

// forget drops id so it is processed again next time.
func (c *seenCache) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[id]; ok {
		c.order.Remove(el)
		delete(c.index, id)
	}
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
