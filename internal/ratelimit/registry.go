package ratelimit

import (
	"errors"
	"sync"

	"pulse/internal/models"
)

// Sizer is implemented by limiters that can report how many identifiers they track.
type Sizer interface {
	Len() int
}

type tracked struct {
	name    string
	limiter Limiter
}

// Registry keeps every limiter created by the process so they can be
// inspected together and shut down at once.
type Registry struct {
	mu       sync.Mutex
	limiters []tracked
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Track adds l under name and returns it for chaining.
func (r *Registry) Track(name string, l Limiter) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = append(r.limiters, tracked{name: name, limiter: l})
	return l
}

// Stats describes every tracked limiter in registration order.
func (r *Registry) Stats() []models.LimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]models.LimiterStats, 0, len(r.limiters))
	for _, t := range r.limiters {
		q := t.limiter.Quota()
		s := models.LimiterStats{
			Name:        t.name,
			Window:      q.Window.String(),
			Max:         q.Max,
			MaxPerKey:   q.KeyMax,
			Identifiers: -1,
		}
		if sz, ok := t.limiter.(Sizer); ok {
			s.Identifiers = sz.Len()
		}
		stats = append(stats, s)
	}
	return stats
}

// CloseAll closes every tracked limiter. Later calls are no-ops.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, t := range r.limiters {
		if err := t.limiter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
