// Package ratelimit provides sliding-window rate limiting for HTTP requests.
// Each caller is tracked by an Identifier (its validated API key or its network
// address) and may issue at most a fixed number of requests over a trailing
// window. Keyed callers get an elevated quota. The package includes HTTP
// middleware that sets the X-RateLimit-* response headers, a janitor that
// prunes idle records, and a registry for tearing down every limiter at once.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultWindow = 15 * time.Minute
	DefaultMax    = 100
)

// ErrQuotaExceeded is the sentinel matched by errors.Is for rejected requests.
var ErrQuotaExceeded = errors.New("rate limit exceeded")

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow records a request for id if its quota permits it. Returns whether
	// the request is allowed and rate information for the response headers.
	Allow(ctx context.Context, id Identifier) (allowed bool, info Info, err error)

	// Quota returns the immutable quota the limiter enforces.
	Quota() Quota

	// Close stops background goroutines and releases resources. Calling
	// Close more than once is not an error.
	Close() error
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Effective quota for the identifier
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // Oldest counted request + window
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
	Window     time.Duration // Window the quota applies to
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds.
func (i Info) RetryAfterSeconds() int {
	if i.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(i.RetryAfter.Seconds()))
}

// WindowMinutes returns the window length rounded to whole minutes.
func (i Info) WindowMinutes() int {
	return int(math.Round(i.Window.Minutes()))
}

// Quota is the per-process quota configuration. Max applies to anonymous
// identifiers, KeyMax to identifiers carrying a validated API key.
type Quota struct {
	Window time.Duration
	Max    int
	KeyMax int
}

// LimitFor returns the effective quota for id.
func (q Quota) LimitFor(id Identifier) int {
	if id.Kind == KindKey {
		return q.KeyMax
	}
	return q.Max
}

// decide turns a window observation into a decision. count is the number of
// timestamps inside the window before the current request; oldest is the
// earliest of them, or now when there are none.
func (q Quota) decide(id Identifier, now, oldest time.Time, count int) (bool, Info) {
	limit := q.LimitFor(id)
	info := Info{
		Limit:   limit,
		ResetAt: oldest.Add(q.Window),
		Window:  q.Window,
	}

	if count >= limit {
		info.Remaining = 0
		info.RetryAfter = q.Window - now.Sub(oldest)
		if info.RetryAfter < 0 {
			info.RetryAfter = 0
		}
		return false, info
	}

	info.Remaining = limit - (count + 1)
	return true, info
}

// Check records a request for id against limiter. A rejection is returned as a
// *QuotaError carrying the rate information; any other error comes from the
// limiter's store.
func Check(ctx context.Context, limiter Limiter, id Identifier) (Info, error) {
	allowed, info, err := limiter.Allow(ctx, id)
	if err != nil {
		return Info{}, err
	}
	if !allowed {
		return info, &QuotaError{Identifier: id, Info: info}
	}
	return info, nil
}

// QuotaError describes a rejected request. It matches ErrQuotaExceeded.
type QuotaError struct {
	Identifier Identifier
	Info       Info
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %d requests per %d minutes for %s", ErrQuotaExceeded, e.Info.Limit, e.Info.WindowMinutes(), e.Identifier.Kind)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
