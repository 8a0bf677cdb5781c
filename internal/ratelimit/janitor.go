package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically invokes a sweep function until stopped.
type Janitor struct {
	interval time.Duration
	sweep    func(time.Time) int
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartJanitor launches a goroutine that calls sweep every interval with the
// current time from now.
func StartJanitor(interval time.Duration, sweep func(time.Time) int, now func() time.Time) *Janitor {
	if now == nil {
		now = time.Now
	}
	j := &Janitor{
		interval: interval,
		sweep:    sweep,
		now:      now,
		done:     make(chan struct{}),
	}

	j.wg.Add(1)
	go j.run()
	return j
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			if removed := j.sweep(j.now()); removed > 0 {
				slog.Debug("Pruned idle rate limit records", "removed", removed)
			}
		}
	}
}

// Stop halts the janitor and waits for an in-flight sweep to finish. Safe to
// call more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}
