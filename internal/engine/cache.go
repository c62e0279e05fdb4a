package engine

import (
	"sync"

	"github.com/steveyegge/tracksheet/internal/source"
)

// Cache holds the last known state of every tracked item, keyed by
// canonical URL. It lets steady-state passes reconcile rows without
// refetching items that did not change, and it survives only as long as
// the process: after a restart the first pass refetches rows directly.
type Cache struct {
	mu    sync.Mutex
	items map[string]*source.Item
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]*source.Item)}
}

// Get returns the cached item for a canonical URL, or nil.
func (c *Cache) Get(url string) *source.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[url]
}

// Put stores one item under its canonical URL.
func (c *Cache) Put(item *source.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.URL] = item
}

// Delete drops an item. Deleting an absent URL is a no-op, so removal
// and archival paths can call it unconditionally.
func (c *Cache) Delete(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, url)
}
