// Package resilience provides the circuit breaker, rate limiting, concurrency
// admission and retry primitives that protect provider calls and the HTTP
// boundary.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the failure ratio tripped and requests go to the fallback.
	CircuitOpen
	// CircuitHalfOpen admits a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure ratio (0..1) that must be exceeded
	// within the rolling window to open the circuit. Default: 0.5.
	FailureThreshold float64

	// MinimumRequests is the number of outcomes that must be observed in the
	// window before the ratio is evaluated. Default: 5.
	MinimumRequests int

	// Cooldown is how long the circuit stays open before a probe is admitted.
	// Default: 30s.
	Cooldown time.Duration

	// Window is the length of the rolling outcome window. Default: 60s.
	Window time.Duration

	// Buckets is the number of slices the window is divided into. Default: 10.
	Buckets int

	// OnStateChange is called when the circuit transitions between states.
	// It runs with the breaker lock held and must not call back into it.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 0.5,
		MinimumRequests:  5,
		Cooldown:         30 * time.Second,
		Window:           60 * time.Second,
		Buckets:          10,
	}
}

type outcomeBucket struct {
	start     time.Time
	successes int
	failures  int
}

// CircuitBreaker is a three-state failure gate over a rolling window.
type CircuitBreaker struct {
	name  string
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	buckets       []outcomeBucket
	openedAt      time.Time
	probeInFlight bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold >= 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.MinimumRequests <= 0 {
		cfg.MinimumRequests = def.MinimumRequests
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		buckets: make([]outcomeBucket, cfg.Buckets),
		nowFunc: time.Now,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanRequest reports whether a call to the protected dependency may proceed.
// In HALF_OPEN it returns true exactly once until that probe reports back.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false
		}
		cb.transition(CircuitHalfOpen)
		cb.probeInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.resetWindow()
		cb.transition(CircuitClosed)
	case CircuitClosed:
		cb.current().successes++
	}
}

// RecordFailure reports a failed call. Timeouts count as failures.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFunc()
	switch cb.state {
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.openedAt = now
		cb.transition(CircuitOpen)
	case CircuitClosed:
		cb.current().failures++
		successes, failures := cb.totals()
		total := successes + failures
		if total >= cb.cfg.MinimumRequests && float64(failures)/float64(total) > cb.cfg.FailureThreshold {
			cb.openedAt = now
			cb.transition(CircuitOpen)
		}
	case CircuitOpen:
		// Late reports from calls admitted before the trip keep the cooldown fresh.
		cb.openedAt = now
	}
}

// Release returns an admitted call that ended without an outcome, such as
// one canceled by its caller. In HALF_OPEN the single trial slot becomes available again.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
	}
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports HALF_OPEN without consuming the probe.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// BreakerSnapshot is a point-in-time view of the breaker for observability.
type BreakerSnapshot struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}

// Snapshot returns the state and rolling counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	successes, failures := cb.totals()
	return BreakerSnapshot{
		Name:      cb.name,
		State:     state.String(),
		Successes: successes,
		Failures:  failures,
	}
}

// current returns the bucket for now, recycling it when it belongs to an
// earlier lap of the window.
func (cb *CircuitBreaker) current() *outcomeBucket {
	now := cb.nowFunc()
	width := cb.bucketWidth()
	start := now.Truncate(width)
	idx := int((start.UnixNano() / int64(width)) % int64(len(cb.buckets)))
	b := &cb.buckets[idx]
	if !b.start.Equal(start) {
		*b = outcomeBucket{start: start}
	}
	return b
}

func (cb *CircuitBreaker) totals() (successes, failures int) {
	cutoff := cb.nowFunc().Add(-cb.cfg.Window)
	for _, b := range cb.buckets {
		if b.start.IsZero() || !b.start.After(cutoff.Add(-cb.bucketWidth())) {
			continue
		}
		successes += b.successes
		failures += b.failures
	}
	return successes, failures
}

func (cb *CircuitBreaker) bucketWidth() time.Duration {
	w := cb.cfg.Window / time.Duration(len(cb.buckets))
	if w <= 0 {
		w = time.Millisecond
	}
	return w
}

func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.buckets {
		cb.buckets[i] = outcomeBucket{}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(from, to)
	}
}
