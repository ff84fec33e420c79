package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Quota is the server-reported daily allowance for one IP, served
// verbatim on the quota endpoint.
type Quota struct {
	Used           int `json:"used"`
	Remaining      int `json:"remaining"`
	Limit          int `json:"limit"`
	ResetInSeconds int `json:"reset_in_seconds"`
}

// DailyLimiter caps chat messages per IP per UTC day. Backend errors
// fail over to an in-memory counter rather than blocking requests.
type DailyLimiter struct {
	store    Store
	fallback *MemoryStore
	limit    int
	now      func() time.Time
}

// NewDailyLimiter creates a daily limiter over the given store.
func NewDailyLimiter(store Store, limit int) *DailyLimiter {
	return &DailyLimiter{
		store:    store,
		fallback: NewMemoryStore(),
		limit:    limit,
		now:      time.Now,
	}
}

// key includes the date so caps reset daily regardless of TTL
// processing lag.
func (l *DailyLimiter) key(ip string) string {
	return "ratelimit:v3:" + l.now().UTC().Format("2006-01-02") + ":" + ip
}

// ttlUntilMidnightUTC returns the TTL to the next UTC midnight with a
// small buffer so key expiry is not time-critical.
func ttlUntilMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	ttl := midnight.Sub(now) + 5*time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// Allow increments the counter for the IP and reports whether the
// request is within the daily limit.
func (l *DailyLimiter) Allow(ctx context.Context, ip string) bool {
	key := l.key(ip)
	ttl := ttlUntilMidnightUTC(l.now())

	used, err := l.store.Incr(ctx, key, ttl)
	if err != nil {
		slog.Warn("daily limiter backend error, using fallback", "ip", ip, "error", err)
		used, _ = l.fallback.Incr(ctx, key, ttl)
	}

	return used <= int64(l.limit)
}

// Quota reports the current usage for the IP without incrementing.
func (l *DailyLimiter) Quota(ctx context.Context, ip string) Quota {
	key := l.key(ip)

	used, remaining, ok, err := l.store.Get(ctx, key)
	if err != nil {
		slog.Warn("daily quota backend error, using fallback", "ip", ip, "error", err)
		used, remaining, ok, _ = l.fallback.Get(ctx, key)
	}
	if !ok {
		return Quota{
			Used:           0,
			Remaining:      l.limit,
			Limit:          l.limit,
			ResetInSeconds: int(ttlUntilMidnightUTC(l.now()).Seconds()),
		}
	}

	left := l.limit - int(used)
	if left < 0 {
		left = 0
	}
	resetIn := int(remaining.Seconds())
	if resetIn <= 0 {
		resetIn = int(ttlUntilMidnightUTC(l.now()).Seconds())
	}

	return Quota{
		Used:           int(used),
		Remaining:      left,
		Limit:          l.limit,
		ResetInSeconds: resetIn,
	}
}
