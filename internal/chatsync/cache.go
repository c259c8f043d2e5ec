package chatsync

import (
	"container/list"
	"sync"
	"time"

	"github.com/tOgg1/leadsync/internal/models"
)

const (
	defaultPanelCacheSize = 256
	defaultPanelCacheTTL  = 90 * time.Second
)

// panelCache is an LRU of side-panel records keyed by normalized phone.
// Entries older than ttl are treated as misses.
type panelCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[string]*list.Element
}

type panelCacheEntry struct {
	key     string
	expires time.Time
	record  models.SidePanelRecord
}

func newPanelCache(capacity int, ttl time.Duration) *panelCache {
	if capacity <= 0 {
		capacity = defaultPanelCacheSize
	}
	if ttl <= 0 {
		ttl = defaultPanelCacheTTL
	}
	return &panelCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *panelCache) get(key string, now time.Time) (models.SidePanelRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return models.SidePanelRecord{}, false
	}
	entry := elem.Value.(*panelCacheEntry)
	if now.After(entry.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return models.SidePanelRecord{}, false
	}
	c.order.MoveToFront(elem)
	return entry.record, true
}

func (c *panelCache) put(key string, record models.SidePanelRecord, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := now.Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*panelCacheEntry)
		entry.expires = expires
		entry.record = record
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&panelCacheEntry{key: key, expires: expires, record: record})
	c.entries[key] = elem

	for c.order.Len() > c.capacity {
		last := c.order.Back()
		if last == nil {
			break
		}
		c.order.Remove(last)
		delete(c.entries, last.Value.(*panelCacheEntry).key)
	}
}

func (c *panelCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

func (c *panelCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
