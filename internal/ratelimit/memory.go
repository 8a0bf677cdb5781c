package ratelimit

import (
	"context"
	"sync"
	"time"
)

// record holds the request timestamps of one identifier in arrival order.
// A record marked dead has been removed from the map by Sweep; callers that
// still hold a pointer to it must look the identifier up again.
type record struct {
	mu         sync.Mutex
	timestamps []time.Time
	dead       bool
}

// prune drops timestamps at or before start.
func (r *record) prune(start time.Time) {
	kept := r.timestamps[:0]
	for _, ts := range r.timestamps {
		if ts.After(start) {
			kept = append(kept, ts)
		}
	}
	// Release the backing array once the record goes idle.
	if len(kept) == 0 {
		kept = nil
	}
	r.timestamps = kept
}

type options struct {
	keyMax        int
	clock         func() time.Time
	sweepInterval time.Duration
	janitor       bool
}

// Option configures a limiter.
type Option func(*options)

// WithKeyQuota sets the elevated quota for identifiers carrying an API key.
// Without it keyed identifiers share the anonymous quota.
func WithKeyQuota(max int) Option {
	return func(o *options) {
		o.keyMax = max
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithSweepInterval overrides the janitor period, which defaults to the window.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// WithoutJanitor disables background pruning. Sweep can still be called directly.
func WithoutJanitor() Option {
	return func(o *options) {
		o.janitor = false
	}
}

// MemoryLimiter is an in-process sliding-window limiter. Every identifier owns
// a record of the timestamps it was admitted at; a request is admitted only if
// fewer than the identifier's quota fall inside the trailing window. The
// check-and-append happens under the record's own lock, so concurrent
// requests from one identifier can never exceed the quota, while requests
// from different identifiers do not contend beyond the map lookup.
type MemoryLimiter struct {
	quota Quota
	now   func() time.Time

	mu      sync.Mutex
	records map[string]*record

	janitor *Janitor
}

// NewMemoryLimiter creates a limiter admitting max requests per window for
// anonymous identifiers. Non-positive values fall back to DefaultWindow and
// DefaultMax. A janitor pruning idle records is started unless WithoutJanitor
// is given; call Close to stop it.
func NewMemoryLimiter(window time.Duration, max int, opts ...Option) *MemoryLimiter {
	o := options{
		clock:   time.Now,
		janitor: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	q := newQuota(window, max, o.keyMax)

	m := &MemoryLimiter{
		quota:   q,
		now:     o.clock,
		records: make(map[string]*record),
	}

	if o.janitor {
		interval := o.sweepInterval
		if interval <= 0 {
			interval = q.Window
		}
		m.janitor = StartJanitor(interval, m.Sweep, m.now)
	}

	return m
}

func newQuota(window time.Duration, max, keyMax int) Quota {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	if keyMax <= 0 {
		keyMax = max
	}
	return Quota{Window: window, Max: max, KeyMax: keyMax}
}

// Allow records a request for id if its quota permits it. It never returns an
// error; the signature matches stores that can fail.
func (m *MemoryLimiter) Allow(_ context.Context, id Identifier) (bool, Info, error) {
	key := id.String()

	for {
		rec := m.lookup(key)

		rec.mu.Lock()
		if rec.dead {
			// Swept between lookup and lock; retry against a fresh record.
			rec.mu.Unlock()
			continue
		}

		now := m.now()
		rec.prune(now.Add(-m.quota.Window))

		oldest := now
		if len(rec.timestamps) > 0 {
			oldest = rec.timestamps[0]
		}

		allowed, info := m.quota.decide(id, now, oldest, len(rec.timestamps))
		if allowed {
			rec.timestamps = append(rec.timestamps, now)
		}
		rec.mu.Unlock()

		return allowed, info, nil
	}
}

// lookup returns the record for key, creating it when absent.
func (m *MemoryLimiter) lookup(key string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		rec = &record{}
		m.records[key] = rec
	}
	return rec
}

// Sweep prunes every record against now and removes the ones left empty.
// Returns the number of identifiers removed. Sweeping twice with the same
// instant removes nothing the second time.
func (m *MemoryLimiter) Sweep(now time.Time) int {
	start := now.Add(-m.quota.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, rec := range m.records {
		rec.mu.Lock()
		rec.prune(start)
		if len(rec.timestamps) == 0 {
			rec.dead = true
			delete(m.records, key)
			removed++
		}
		rec.mu.Unlock()
	}
	return removed
}

// Len returns the number of identifiers currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Quota returns the quota the limiter enforces.
func (m *MemoryLimiter) Quota() Quota {
	return m.quota
}

// Close stops the janitor. Records are kept, so Allow keeps working without
// background pruning.
func (m *MemoryLimiter) Close() error {
	if m.janitor != nil {
		m.janitor.Stop()
	}
	return nil
}
