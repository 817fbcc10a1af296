package region

import "sync"

// Observer is notified with the new contents after every Replace.
type Observer func(regions []Region)

// Cache holds the canonical in-memory region collection. Contents are only
// ever replaced wholesale; the feed delivers full snapshots, never deltas.
type Cache struct {
	replaceMu sync.Mutex // serializes Replace so observers see replacements in order

	mu        sync.RWMutex
	regions   []Region
	byID      map[string]int
	version   uint64
	observers []Observer
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{byID: make(map[string]int)}
}

// Observe registers fn to be called synchronously after each Replace.
func (c *Cache) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Replace swaps the cache contents for regions. Any region absent from
// regions is dropped. If an id repeats, the last occurrence wins.
func (c *Cache) Replace(regions []Region) {
	c.replaceMu.Lock()
	defer c.replaceMu.Unlock()

	next := make([]Region, 0, len(regions))
	byID := make(map[string]int, len(regions))
	for _, r := range regions {
		if i, dup := byID[r.ID]; dup {
			next[i] = r
			continue
		}
		byID[r.ID] = len(next)
		next = append(next, r)
	}

	c.mu.Lock()
	c.regions = next
	c.byID = byID
	c.version++
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(copyRegions(next))
	}
}

// All returns a copy of the current snapshot.
func (c *Cache) All() []Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyRegions(c.regions)
}

// Get returns the region with the given id.
func (c *Cache) Get(id string) (Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Region{}, false
	}
	return c.regions[i], true
}

// Len returns the number of regions held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regions)
}

// Version returns the number of replacements applied so far.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func copyRegions(src []Region) []Region {
	out := make([]Region, len(src))
	copy(out, src)
	return out
}
