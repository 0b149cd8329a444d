// Package ratelimit enforces per-key sliding-window admission control.
//
// Every inbound message passes through the limiter before any other component
// runs. State is process-local; a restart resets all windows, which is an
// accepted tradeoff. A shared backend can replace the in-memory store as long
// as it preserves the atomicity of prune+check+record for one key.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the maximum number of requests per key per window when
	// no explicit limit is configured.
	DefaultLimit = 20

	// DefaultWindow is the sliding window duration.
	DefaultWindow = time.Minute
)

// Key derives the rate-limit key for a user, optionally scoped to a channel.
func Key(userID, channelID string) string {
	if channelID == "" {
		return userID
	}
	return userID + ":" + channelID
}

// Store holds the per-key timestamp state. Implementations must make
// prune+check+record one atomic step per key; concurrent calls for distinct
// keys must not serialize against each other.
type Store interface {
	// CheckAndRecord prunes timestamps older than now-window for key, then
	// records now and returns true when fewer than limit remain. A denied
	// request records nothing.
	CheckAndRecord(key string, now time.Time, limit int, window time.Duration) bool
}

// Limiter applies a sliding-window limit of Limit requests per Window per key.
// It is safe for concurrent use from multiple goroutines.
type Limiter struct {
	limit  int
	window time.Duration
	store  Store

	// now is the clock source. time.Now values carry a monotonic reading, so
	// window arithmetic is immune to wall-clock adjustments. Tests inject a
	// fake.
	now func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects a clock source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStore swaps the backing store. The replacement must preserve the
// CheckAndRecord atomicity contract.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// New returns a Limiter allowing at most limit requests per key within window.
// Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = newMemoryStore(window)
	}
	return l
}

// CheckAndRecord reports whether a request for key is admitted, recording it
// when allowed. Denial has no side effect on the window.
func (l *Limiter) CheckAndRecord(key string) bool {
	return l.store.CheckAndRecord(key, l.now(), l.limit, l.window)
}

// memoryStore is the default in-process Store. The map is guarded by its own
// mutex; each key's timestamps are guarded by a per-key mutex so contention on
// one key never serializes another.
type memoryStore struct {
	mu        sync.Mutex
	entries   map[string]*keyEntry
	window    time.Duration
	lastSweep time.Time
}

type keyEntry struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool // set by the sweeper after removal from the map
}

func newMemoryStore(window time.Duration) *memoryStore {
	return &memoryStore{
		entries: make(map[string]*keyEntry),
		window:  window,
	}
}

// CheckAndRecord implements Store.
func (m *memoryStore) CheckAndRecord(key string, now time.Time, limit int, window time.Duration) bool {
	for {
		m.mu.Lock()
		e := m.entries[key]
		if e == nil {
			e = &keyEntry{}
			m.entries[key] = e
		}
		m.maybeSweep(now)
		m.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			// The sweeper removed this entry between the map lookup and the
			// lock; look it up again so the record is not lost.
			e.mu.Unlock()
			continue
		}
		allowed := admit(e, now, limit, window)
		e.mu.Unlock()
		return allowed
	}
}

// admit prunes stamps outside the window and records now when under the
// limit. Must be called with e.mu held.
func admit(e *keyEntry, now time.Time, limit int, window time.Duration) bool {
	cutoff := now.Add(-window)
	valid := e.stamps[:0] // reuse backing array
	for _, t := range e.stamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= limit {
		e.stamps = valid
		return false
	}

	e.stamps = append(valid, now)
	return true
}

// maybeSweep drops keys whose every timestamp has aged out of the window.
// Runs at most once per window so idle keys do not accumulate forever.
// Must be called with m.mu held.
func (m *memoryStore) maybeSweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	m.lastSweep = now

	cutoff := now.Add(-m.window)
	for key, e := range m.entries {
		if !e.mu.TryLock() {
			continue // in use; next sweep gets it
		}
		stale := true
		for _, t := range e.stamps {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			e.dead = true
			delete(m.entries, key)
		}
		e.mu.Unlock()
	}
}
