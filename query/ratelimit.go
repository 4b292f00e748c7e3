package query

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Hourly request quotas per tier. The PREMIUM quota is effectively
// unbounded.
const (
	publicHourlyLimit     = 100
	registeredHourlyLimit = 1000
	premiumHourlyLimit    = 999999
)

func hourlyLimit(t Tier) int {
	switch t {
	case TierRegistered:
		return registeredHourlyLimit
	case TierPremium:
		return premiumHourlyLimit
	default:
		return publicHourlyLimit
	}
}

// Decision is the outcome of one rate-limit check, carrying everything
// the handler needs for the X-RateLimit-* headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the top of the next hour, when counters clear.
	Reset time.Time
	// RetryAfter is the wait until Reset. Zero when allowed.
	RetryAfter time.Duration
}

// RateLimiter counts requests per bucket key within the current clock
// hour. Counters reset at the top of each hour. The counter map is the
// query service's only mutable shared state; all access is guarded.
type RateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	window time.Time
	now    func() time.Time
}

// NewRateLimiter returns a limiter using the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// Allow consumes one request slot for the bucket key at the given tier.
func (l *RateLimiter) Allow(key string, tier Tier) Decision {
	return l.check(key, tier, true)
}

// Peek reports the current decision without consuming a slot. Used by
// endpoints that carry rate headers but never reject.
func (l *RateLimiter) Peek(key string, tier Tier) Decision {
	return l.check(key, tier, false)
}

func (l *RateLimiter) check(key string, tier Tier, consume bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hour := now.Truncate(time.Hour)
	if !hour.Equal(l.window) {
		l.window = hour
		clear(l.counts)
	}
	reset := hour.Add(time.Hour)

	limit := hourlyLimit(tier)
	count := l.counts[key]
	if count >= limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}
	if consume {
		count++
		l.counts[key] = count
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		Reset:     reset,
	}
}

// BucketKey derives the counter key for a request: the credential when
// one was presented, otherwise the client IP.
func BucketKey(apiKey string, r *http.Request) string {
	if apiKey != "" {
		return "apikey:" + apiKey
	}
	return "ip:" + clientIP(r)
}

// clientIP picks the first X-Forwarded-For entry when present, else the
// socket peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
