// Package ratelimit implements the per (command, entity, user) sliding-window
// rate limiter consulted before command dispatch.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how often empty windows are pruned.
const sweepInterval = 60 * time.Second

// BuildKey builds the limiter key for a command, entity, and user.
func BuildKey(commandID, entityID, userID string) string {
	return commandID + ":" + entityID + ":" + userID
}

// Limiter is an in-memory sliding-window rate limiter. Admission is serialized
// per call under a single mutex; the hot path is short (prune + append).
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a request under key is admitted given the limit per
// sliding window. Timestamps older than the window are dropped first; when the
// remaining count has reached the limit the request is rejected, otherwise the
// current time is appended and the request admitted.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.windows[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.windows[key] = kept
		return false
	}

	l.windows[key] = append(kept, now)
	return true
}

// StartSweeper launches a background goroutine that prunes empty and fully
// expired windows every 60 seconds until ctx is cancelled. maxWindow should be
// the largest window any command uses; older timestamps can never matter.
func (l *Limiter) StartSweeper(ctx context.Context, maxWindow time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep(maxWindow)
			}
		}
	}()
}

func (l *Limiter) sweep(maxWindow time.Duration) {
	cutoff := l.now().Add(-maxWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, ts := range l.windows {
		kept := ts[:0]
		for _, t := range ts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.windows, key)
			continue
		}
		l.windows[key] = kept
	}
}

// Keys returns the number of tracked windows. Exposed for the metrics snapshot.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
