package storage

import (
	"fmt"
	"time"

	"pulse/internal/models"
)

// SQLite has no native timestamp or boolean types; keys are stored with
// RFC3339Nano text timestamps and 0/1 integers.

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// copyKey returns a detached copy so callers cannot mutate stored state.
func copyKey(k *models.APIKey) *models.APIKey {
	c := *k
	return &c
}
