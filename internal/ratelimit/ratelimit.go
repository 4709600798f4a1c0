// Package ratelimit provides a fixed-window rate limiter for outbound
// model calls. Window state lives in a Store so every server instance
// shares one budget; a failing store fails open rather than halting work.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Store persists per-window counters keyed by limiter key and window
// start. Increment must be atomic across concurrent callers and returns
// the counter value after incrementing.
type Store interface {
	Increment(ctx context.Context, key string, window int64) (int64, error)
	Count(ctx context.Context, key string, window int64) (int64, error)
	Clear(ctx context.Context, key string) error
}

// Limiter is a fixed-window counter bound to one upstream key. All
// requests for that key inside the same window share a single budget; the
// counter resets when the window rolls over. Limiters with distinct keys
// draw from independent budgets in the same store.
type Limiter struct {
	store  Store
	key    string
	max    int64
	window time.Duration
	logger *slog.Logger

	// now is replaced in tests to step through windows deterministically.
	now func() time.Time
}

func New(store Store, key string, max int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		key:    key,
		max:    int64(max),
		window: window,
		logger: logger.With("system", "ratelimit", "key", key),
		now:    time.Now,
	}
}

// currentWindow truncates the current time to the window start.
func (l *Limiter) currentWindow() int64 {
	seconds := int64(l.window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return (l.now().Unix() / seconds) * seconds
}

// Acquire consumes one slot in the current window. It returns false when
// the window budget is exhausted. Store failures are logged and allowed
// through so a broken backend cannot stop grading.
func (l *Limiter) Acquire(ctx context.Context) (bool, error) {
	count, err := l.store.Increment(ctx, l.key, l.currentWindow())
	if err != nil {
		l.logger.Warn("limiter store unavailable, allowing request", "error", err)
		return true, nil
	}
	return count <= l.max, nil
}

// Remaining reports how many slots are left in the current window. A store
// failure reports the full budget, matching Acquire's fail-open stance.
func (l *Limiter) Remaining(ctx context.Context) (int64, error) {
	count, err := l.store.Count(ctx, l.key, l.currentWindow())
	if err != nil {
		l.logger.Warn("limiter store unavailable, reporting full budget", "error", err)
		return l.max, nil
	}
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears all window state for this limiter's key.
func (l *Limiter) Reset(ctx context.Context) error {
	return l.store.Clear(ctx, l.key)
}
