package attention

import (
	"container/list"
	"sync"
	"time"

	"github.com/cortex-mind/cortex/internal/domain"
)

const (
	defaultCacheCapacity = 1000
	defaultHorizon       = 10
)

// CacheEntry is one cached prediction, per spec 4.6.3.
type CacheEntry struct {
	UnitID      domain.UnitID
	Score       float64
	CachedAt    int64
	AccessCount int
}

// Cache is the predictive cache: an LRU of predicted symbols bounded by
// capacity, prefetching up to horizon candidates ahead of demand. Modeled
// on the container/list + map LRU idiom from pkg/memory/lru.go rather than
// pulling in a dedicated LRU library, since the pack's own code already
// hand-rolls this exact shape.
type Cache struct {
	mu       sync.Mutex
	capacity int
	horizon  int
	order    *list.List
	elements map[domain.UnitID]*list.Element
	hits     int
	misses   int
	nowFn    func() int64
}

// NewCache returns an empty cache with the spec's default capacity and
// prediction horizon.
func NewCache() *Cache {
	return &Cache{
		capacity: defaultCacheCapacity,
		horizon:  defaultHorizon,
		order:    list.New(),
		elements: make(map[domain.UnitID]*list.Element),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Put inserts or refreshes unit, evicting the least-recently-used entry
// once at capacity.
func (c *Cache) Put(unit domain.UnitID, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.elements[unit]; ok {
		e := elem.Value.(*CacheEntry)
		e.Score = score
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back != nil {
			evicted := c.order.Remove(back).(*CacheEntry)
			delete(c.elements, evicted.UnitID)
		}
	}

	entry := &CacheEntry{UnitID: unit, Score: score, CachedAt: c.nowFn()}
	elem := c.order.PushFront(entry)
	c.elements[unit] = elem
}

// Get returns the cached entry for id, promoting it to most-recently-used
// and incrementing its access count on a hit.
func (c *Cache) Get(id domain.UnitID) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elements[id]
	if !ok {
		c.misses++
		return CacheEntry{}, false
	}
	e := elem.Value.(*CacheEntry)
	e.AccessCount++
	c.order.MoveToFront(elem)
	c.hits++
	return *e, true
}

// Prefetch returns those of the first c.horizon predictions that are not
// already cached, for the caller (e.g. the Semantic Store) to load outside
// this call. It never blocks and inserts nothing into the cache; each
// lookup goes through Get, so it counts as a hit or miss and bumps the
// access count of entries already present.
func (c *Cache) Prefetch(predictions []domain.UnitID) []domain.UnitID {
	c.mu.Lock()
	horizon := c.horizon
	c.mu.Unlock()

	if len(predictions) > horizon {
		predictions = predictions[:horizon]
	}

	var toLoad []domain.UnitID
	for _, p := range predictions {
		if _, hit := c.Get(p); !hit {
			toLoad = append(toLoad, p)
		}
	}
	return toLoad
}

// Len reports the number of cached entries, always <= capacity.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// HitRate reports hits/(hits+misses), 0 if Get has never been called.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
