package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/vision-cli/internal/cache"
	"github.com/sells-group/vision-cli/internal/resilience"
)

// BreakerSource exposes a circuit breaker's state.
type BreakerSource interface {
	Snapshot() resilience.BreakerSnapshot
}

// CacheSource exposes counters for named caches.
type CacheSource interface {
	CacheStats() map[string]cache.Stats
}

// LimiterSource exposes a rate limiter's counters.
type LimiterSource interface {
	Snapshot() resilience.LimiterSnapshot
}

// LimiterStatus is a limiter snapshot plus denials since the previous
// collection.
type LimiterStatus struct {
	resilience.LimiterSnapshot
	DeniedSinceLast int64 `json:"denied_since_last"`
}

// Snapshot holds a point-in-time view of service health.
type Snapshot struct {
	Breaker     *resilience.BreakerSnapshot `json:"breaker,omitempty"`
	Caches      map[string]cache.Stats      `json:"caches,omitempty"`
	RateLimits  []LimiterStatus             `json:"rate_limits,omitempty"`
	CollectedAt time.Time                   `json:"collected_at"`
}

// Collector gathers breaker, cache and rate limiter state.
type Collector struct {
	caches   CacheSource
	breaker  BreakerSource
	limiters []LimiterSource

	mu         sync.Mutex
	lastDenied map[string]int64
}

// NewCollector creates a collector. Any source may be nil.
func NewCollector(caches CacheSource, breaker BreakerSource, limiters ...LimiterSource) *Collector {
	return &Collector{
		caches:     caches,
		breaker:    breaker,
		limiters:   limiters,
		lastDenied: make(map[string]int64),
	}
}

// Collect returns a snapshot. DeniedSinceLast is relative to the previous
// call.
func (c *Collector) Collect() *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	if c.breaker != nil {
		b := c.breaker.Snapshot()
		snap.Breaker = &b
	}
	if c.caches != nil {
		snap.Caches = c.caches.CacheStats()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.limiters {
		if l == nil {
			continue
		}
		ls := l.Snapshot()
		delta := ls.Denied - c.lastDenied[ls.Dimension]
		if delta < 0 {
			delta = ls.Denied
		}
		c.lastDenied[ls.Dimension] = ls.Denied
		snap.RateLimits = append(snap.RateLimits, LimiterStatus{LimiterSnapshot: ls, DeniedSinceLast: delta})
	}
	return snap
}
