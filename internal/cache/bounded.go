// Package cache provides a TTL and capacity bounded in-memory cache.
package cache

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stats holds cache counters.
type Stats struct {
	Entries     int   `json:"entries"`
	MaxEntries  int   `json:"max_entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// Bounded is a cache with lazy TTL expiry and insertion-order eviction.
// Reads do not refresh an entry's position; only Set does.
type Bounded[V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	items      map[string]*list.Element
	order      *list.List // front is oldest insertion

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	nowFunc func() time.Time
}

// New creates a cache. A non-positive ttl disables expiry; maxEntries below
// one is treated as one.
func New[V any](ttl time.Duration, maxEntries int) *Bounded[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Bounded[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		nowFunc:    time.Now,
	}
}

// Get returns the value for key. Expired entries are removed and reported
// as a miss.
func (c *Bounded[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if c.ttl > 0 && !c.nowFunc().Before(e.expiresAt) {
		c.removeElement(elem)
		c.expirations++
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key as a fresh insertion, then evicts the oldest
// insertions beyond capacity.
func (c *Bounded[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	e := &entry[V]{key: key, value: value, insertedAt: now, expiresAt: now.Add(c.ttl)}
	c.items[key] = c.order.PushBack(e)

	for c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Front())
		c.evictions++
	}
}

// Delete removes key.
func (c *Bounded[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of stored entries, including expired entries not
// yet observed by Get.
func (c *Bounded[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *Bounded[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     c.order.Len(),
		MaxEntries:  c.maxEntries,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *Bounded[V]) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[V])
	delete(c.items, e.key)
}

// ResultKey keys the classification result cache.
func ResultKey(provider, domainPackID, imageHash string) string {
	return provider + "|" + domainPackID + "|" + imageHash
}

// FactsKey keys the visual facts cache. Hash order does not matter.
func FactsKey(imageHashes []string, featureVersion, mode string) string {
	sorted := append([]string(nil), imageHashes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + featureVersion + "|" + mode
}
