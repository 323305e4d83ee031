package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WindowStore counts requests per key over a sliding window. Record prunes
// entries older than now-window, and records the new request only when fewer
// than limit remain. Implementations must make that check-and-insert atomic.
type WindowStore interface {
	Record(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (count int, allowed bool, err error)
}

// RateLimitConfig configures one rate-limit dimension.
type RateLimitConfig struct {
	// Dimension names what the key identifies (ip, credential, device).
	Dimension   string
	Window      time.Duration
	MaxRequests int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRateLimitConfig returns defaults for a dimension.
func DefaultRateLimitConfig(dimension string) RateLimitConfig {
	return RateLimitConfig{
		Dimension:   dimension,
		Window:      time.Minute,
		MaxRequests: 60,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Decision is the outcome of RateLimiter.Consume.
type Decision struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
	Remaining         int  `json:"remaining"`
	Limit             int  `json:"limit"`
}

type violationState struct {
	count int
	last  time.Time
}

// RateLimiter is a sliding-window limiter for a single dimension with
// escalating backoff for repeat violators. Window counts live in an optional
// shared store; when it fails the limiter falls back to a process-local
// window.
type RateLimiter struct {
	cfg    RateLimitConfig
	shared WindowStore
	local  *MemoryWindowStore

	mu         sync.Mutex
	violations map[string]*violationState
	degraded   bool
	consumes   int
	denied     int64

	// OnDenied is called for each denial.
	OnDenied func(dimension string)

	nowFunc func() time.Time
}

const sweepEvery = 256

// NewRateLimiter creates a limiter. shared may be nil for process-local only.
func NewRateLimiter(cfg RateLimitConfig, shared WindowStore) *RateLimiter {
	def := DefaultRateLimitConfig(cfg.Dimension)
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &RateLimiter{
		cfg:        cfg,
		shared:     shared,
		local:      NewMemoryWindowStore(),
		violations: make(map[string]*violationState),
		nowFunc:    time.Now,
	}
}

// Dimension returns the configured dimension name.
func (rl *RateLimiter) Dimension() string {
	return rl.cfg.Dimension
}

// Consume records one request for key and decides whether it may proceed.
func (rl *RateLimiter) Consume(ctx context.Context, key string) Decision {
	now := rl.nowFunc()
	count, allowed := rl.record(ctx, key, now)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.consumes++
	if rl.consumes%sweepEvery == 0 {
		rl.sweepLocked(now)
	}

	v := rl.violations[key]
	if v != nil {
		rl.decay(v, now)
	}

	if allowed {
		remaining := rl.cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: true, Remaining: remaining, Limit: rl.cfg.MaxRequests}
	}

	if v == nil {
		v = &violationState{}
		rl.violations[key] = v
	}
	backoff := float64(rl.cfg.BaseBackoff) * math.Pow(2, float64(v.count))
	if backoff > float64(rl.cfg.MaxBackoff) {
		backoff = float64(rl.cfg.MaxBackoff)
	}
	v.count++
	v.last = now
	rl.denied++
	if rl.OnDenied != nil {
		rl.OnDenied(rl.cfg.Dimension)
	}

	retryAfter := int(math.Ceil(time.Duration(backoff).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter, Limit: rl.cfg.MaxRequests}
}

func (rl *RateLimiter) record(ctx context.Context, key string, now time.Time) (int, bool) {
	if rl.shared != nil {
		count, allowed, err := rl.shared.Record(ctx, rl.cfg.Dimension+":"+key, now, rl.cfg.Window, rl.cfg.MaxRequests)
		if err == nil {
			rl.setDegraded(false, nil)
			return count, allowed
		}
		rl.setDegraded(true, err)
	}
	count, allowed, _ := rl.local.Record(ctx, key, now, rl.cfg.Window, rl.cfg.MaxRequests)
	return count, allowed
}

func (rl *RateLimiter) setDegraded(degraded bool, err error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.degraded == degraded {
		return
	}
	rl.degraded = degraded
	if degraded {
		zap.L().Warn("ratelimit: shared window store unavailable, using process-local window",
			zap.String("dimension", rl.cfg.Dimension),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("ratelimit: shared window store recovered", zap.String("dimension", rl.cfg.Dimension))
}

// decay forgives one violation per full window without a denial.
func (rl *RateLimiter) decay(v *violationState, now time.Time) {
	if v.count == 0 {
		return
	}
	windows := int(now.Sub(v.last) / rl.cfg.Window)
	if windows <= 0 {
		return
	}
	if windows >= v.count {
		v.last = v.last.Add(time.Duration(v.count) * rl.cfg.Window)
		v.count = 0
		return
	}
	v.count -= windows
	v.last = v.last.Add(time.Duration(windows) * rl.cfg.Window)
}

// Violations returns the current violation count for key.
func (rl *RateLimiter) Violations(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v := rl.violations[key]
	if v == nil {
		return 0
	}
	rl.decay(v, rl.nowFunc())
	return v.count
}

// Sweep drops idle keys from the local window and violation tables.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweepLocked(rl.nowFunc())
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, v := range rl.violations {
		rl.decay(v, now)
		if v.count == 0 && now.Sub(v.last) >= rl.cfg.Window {
			delete(rl.violations, key)
		}
	}
	rl.local.Sweep(now, rl.cfg.Window)
}

// LimiterSnapshot is a point-in-time view of a limiter.
type LimiterSnapshot struct {
	Dimension     string `json:"dimension"`
	Degraded      bool   `json:"degraded"`
	TrackedKeys   int    `json:"tracked_keys"`
	ViolatingKeys int    `json:"violating_keys"`
	Denied        int64  `json:"denied"`
}

// Snapshot returns limiter counters for observability.
func (rl *RateLimiter) Snapshot() LimiterSnapshot {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	violating := 0
	for _, v := range rl.violations {
		if v.count > 0 {
			violating++
		}
	}
	return LimiterSnapshot{
		Dimension:     rl.cfg.Dimension,
		Degraded:      rl.degraded,
		TrackedKeys:   rl.local.Len(),
		ViolatingKeys: violating,
		Denied:        rl.denied,
	}
}

// MemoryWindowStore is a process-local WindowStore.
type MemoryWindowStore struct {
	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewMemoryWindowStore creates an empty local window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{requests: make(map[string][]time.Time)}
}

// Record implements WindowStore.
func (m *MemoryWindowStore) Record(_ context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	valid := prune(m.requests[key], now.Add(-window))
	if len(valid) < limit {
		valid = append(valid, now)
		m.requests[key] = valid
		return len(valid), true, nil
	}
	m.requests[key] = valid
	return len(valid), false, nil
}

// Sweep removes keys whose entries have all left the window.
func (m *MemoryWindowStore) Sweep(now time.Time, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-window)
	for key, ts := range m.requests {
		valid := prune(ts, cutoff)
		if len(valid) == 0 {
			delete(m.requests, key)
			continue
		}
		m.requests[key] = valid
	}
}

// Len returns the number of tracked keys.
func (m *MemoryWindowStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// prune drops timestamps at or before cutoff. Timestamps are kept in
// insertion order, which is also chronological.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
