package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// ErrTooManyInFlight is returned when a key already holds its maximum number
// of concurrent permits.
var ErrTooManyInFlight = eris.New("too many requests in flight")

type inFlightEntry struct {
	sem     *semaphore.Weighted
	holders int
}

// InFlight caps concurrent work per key (typically a caller credential).
// Acquisition never blocks: a key at capacity is refused immediately.
type InFlight struct {
	max     int64
	mu      sync.Mutex
	entries map[string]*inFlightEntry
}

// NewInFlight creates a limiter allowing max concurrent permits per key.
func NewInFlight(max int) *InFlight {
	if max <= 0 {
		max = 4
	}
	return &InFlight{
		max:     int64(max),
		entries: make(map[string]*inFlightEntry),
	}
}

// Acquire takes a permit for key. The returned release func must be deferred
// by the caller; it is safe to call more than once.
func (f *InFlight) Acquire(key string) (release func(), err error) {
	f.mu.Lock()
	e, ok := f.entries[key]
	if !ok {
		e = &inFlightEntry{sem: semaphore.NewWeighted(f.max)}
		f.entries[key] = e
	}
	if !e.sem.TryAcquire(1) {
		f.mu.Unlock()
		return func() {}, ErrTooManyInFlight
	}
	e.holders++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			e.sem.Release(1)
			e.holders--
			if e.holders == 0 {
				delete(f.entries, key)
			}
		})
	}, nil
}

// InFlightCount returns the permits currently held for key.
func (f *InFlight) InFlightCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		return e.holders
	}
	return 0
}
