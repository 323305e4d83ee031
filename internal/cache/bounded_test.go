package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache[V any](ttl time.Duration, maxEntries int) (*Bounded[V], *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[V](ttl, maxEntries)
	c.nowFunc = func() time.Time { return now }
	return c, &now
}

func TestBounded_GetSet(t *testing.T) {
	c, _ := newTestCache[string](time.Minute, 10)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestBounded_LazyExpiry(t *testing.T) {
	c, now := newTestCache[int](time.Second, 10)
	c.Set("k", 1)

	*now = now.Add(999 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	*now = now.Add(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry removed on read")
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestBounded_InsertionOrderEviction(t *testing.T) {
	c, now := newTestCache[int](time.Hour, 2)

	c.Set("old", 1)
	*now = now.Add(time.Second)
	c.Set("mid", 2)

	// Reads do not protect "old" from eviction.
	for i := 0; i < 5; i++ {
		_, ok := c.Get("old")
		require.True(t, ok)
	}

	*now = now.Add(time.Second)
	c.Set("new", 3)

	_, ok := c.Get("old")
	assert.False(t, ok, "oldest insertion is evicted even when frequently read")
	_, ok = c.Get("mid")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestBounded_ResetRefreshesInsertion(t *testing.T) {
	c, _ := newTestCache[int](time.Hour, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b became the oldest insertion after a was re-set")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestBounded_NeverExceedsCapacity(t *testing.T) {
	c := New[int](time.Hour, 50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Set(fmt.Sprintf("%d-%d", g, i), i)
				c.Get(fmt.Sprintf("%d-%d", g, i/2))
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestBounded_Delete(t *testing.T) {
	c := New[int](0, 3)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("missing")
	assert.Equal(t, 0, c.Len())
}

func TestBounded_ZeroTTLNeverExpires(t *testing.T) {
	c, now := newTestCache[int](0, 3)
	c.Set("a", 1)
	*now = now.Add(24 * time.Hour)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestFactsKey_OrderIndependent(t *testing.T) {
	a := FactsKey([]string{"h2", "h1"}, "v1", "text")
	b := FactsKey([]string{"h1", "h2"}, "v1", "text")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, FactsKey([]string{"h1", "h2"}, "v2", "text"))
	assert.NotEqual(t, a, FactsKey([]string{"h1", "h2"}, "v1", "document"))
}

func TestFactsKey_DoesNotMutateInput(t *testing.T) {
	in := []string{"b", "a"}
	FactsKey(in, "v1", "text")
	assert.Equal(t, []string{"b", "a"}, in)
}

func TestResultKey(t *testing.T) {
	assert.Equal(t, "google|home|abc", ResultKey("google", "home", "abc"))
}
