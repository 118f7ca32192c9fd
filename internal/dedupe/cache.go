// ABOUTME: Bounded, age-limited set of handled keys with oldest-first eviction
// ABOUTME: Records terminal task ids so late stream events are ignored

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	marked time.Time
}

// Cache is a thread-safe set of keys. A key is considered seen until ttl has
// passed since it was marked. When the cache holds maxSize keys, marking a
// new one evicts the oldest. A zero ttl never expires keys.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. maxSize below 1 is treated as 1.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key was marked and has not expired.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// MarkIfNew marks key and returns true only for the first caller; later
// callers get false until the key expires. Check and mark happen under one
// lock.
func (c *Cache) MarkIfNew(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return false
	}
	c.markLocked(key)
	return true
}

func (c *Cache) liveLocked(key string) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	if c.expired(el.Value.(*entry)) {
		c.order.Remove(el)
		delete(c.index, key)
		return false
	}
	return true
}

// markLocked adds a key that liveLocked just reported absent.
func (c *Cache) markLocked(key string) {
	c.pruneLocked()
	for c.order.Len() >= c.maxSize {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.index, front.Value.(*entry).key)
	}

	c.index[key] = c.order.PushBack(&entry{key: key, marked: c.now()})
}

// pruneLocked drops expired entries from the front; the list is ordered by
// mark time so it can stop at the first live one.
func (c *Cache) pruneLocked() {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if !c.expired(e) {
			return
		}
		c.order.Remove(front)
		delete(c.index, e.key)
	}
}

func (c *Cache) expired(e *entry) bool {
	return c.ttl > 0 && c.now().Sub(e.marked) >= c.ttl
}
