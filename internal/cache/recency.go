package cache

import (
	"container/list"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// RecencyCache is a bounded LRU map from line key to verdict. It has no expiry: entries leave
// only when evicted as least recently used. It is not safe for concurrent use.
type RecencyCache struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type recencyEntry struct {
	key     string
	verdict models.Verdict
}

// NewRecencyCache returns a cache holding at most capacity entries. A capacity below one
// disables storage: Put is a no-op and Get always misses.
func NewRecencyCache(capacity int) *RecencyCache {
	if capacity < 0 {
		capacity = 0
	}
	return &RecencyCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached verdict for key and marks it most recently used.
func (c *RecencyCache) Get(key string) (models.Verdict, bool) {
	el, ok := c.items[key]
	if !ok {
		return models.Verdict{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*recencyEntry).verdict, true
}

// Put inserts or replaces key, marking it most recently used. When the cache is over capacity the
// single least recently used entry is evicted.
func (c *RecencyCache) Put(key string, verdict models.Verdict) {
	if c.capacity == 0 {
		return
	}
	if el, ok := c.items[key]; ok {
		el.Value.(*recencyEntry).verdict = verdict
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&recencyEntry{key: key, verdict: verdict})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*recencyEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *RecencyCache) Len() int {
	return c.order.Len()
}

// Capacity returns the configured bound.
func (c *RecencyCache) Capacity() int {
	return c.capacity
}

// LineKey derives the cache key for a raw line: hex BLAKE3-256 of its bytes.
func LineKey(line string) string {
	sum := blake3.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}
