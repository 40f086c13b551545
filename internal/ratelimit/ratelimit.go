// Package ratelimit implements fixed-window rate limiting over a shared
// atomic counter store. Window correctness relies on the store's increment
// being a single atomic operation; the limiter never does read-modify-write.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncfm/resolver/internal/ports"
)

const keyPrefix = "ratelimit"

// Result reports the admission decision for one identifier in one window.
// Remaining is clamped to zero: a burst past the limit never reports a
// negative quota, while the underlying counter keeps growing so ResetAt
// stays accurate.
type Result struct {
	Success   bool      `json:"success"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter admits or rejects actions under a fixed-window counting scheme.
type Limiter struct {
	store  ports.CounterStore
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter backed by the given counter store.
func New(store ports.CounterStore, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Check consumes one unit of quota for identifier in the current window.
// When the counter store is unreachable the limiter fails open: the action
// is admitted with full remaining quota and the outage is logged, a
// deliberate availability-over-strictness tradeoff.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	idx, resetAt := l.window(window)
	key := windowKey(identifier, idx)

	count, err := l.store.IncrWindow(ctx, key, window)
	if err != nil {
		l.logger.Warn().Err(err).
			Str("identifier", identifier).
			Msg("counter store unreachable, failing open")
		return Result{Success: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	return Result{
		Success:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetAt:   resetAt,
	}
}

// Status reads the current window's counter without consuming quota. An
// absent counter reads as zero. Store failures fail open like Check.
func (l *Limiter) Status(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	idx, resetAt := l.window(window)

	count, err := l.store.GetCount(ctx, windowKey(identifier, idx))
	if err != nil {
		l.logger.Warn().Err(err).
			Str("identifier", identifier).
			Msg("counter store unreachable, failing open")
		return Result{Success: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	return Result{
		Success:   count < int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetAt:   resetAt,
	}
}

// Reset deletes every window counter for an identifier. Administrative
// override; not part of the request path.
func (l *Limiter) Reset(ctx context.Context, identifier string) (int, error) {
	deleted, err := l.store.DeleteMatching(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, identifier))
	if err != nil {
		return 0, fmt.Errorf("ratelimit: reset %q: %w", identifier, err)
	}
	return deleted, nil
}

func (l *Limiter) window(window time.Duration) (idx int64, resetAt time.Time) {
	ms := window.Milliseconds()
	idx = l.now().UnixMilli() / ms
	return idx, time.UnixMilli((idx + 1) * ms)
}

func windowKey(identifier string, idx int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, identifier, idx)
}

func remaining(limit int, count int64) int {
	if r := int64(limit) - count; r > 0 {
		return int(r)
	}
	return 0
}
