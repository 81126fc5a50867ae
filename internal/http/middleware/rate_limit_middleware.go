package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stayforge/identity-service/internal/http/response"
	"github.com/stayforge/identity-service/internal/observability"
)

// RateLimiter is a per-IP fixed-window limiter. It protects a single
// instance; the redis abuse guard handles the per-identity dimension.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	scope   string
	cleanup time.Time
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		hits:    make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		scope:   scope,
		cleanup: time.Now().Add(window),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIPKey(r)
			allowed, retryAfter := rl.allow(key)
			if !allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, hits := range rl.hits {
			if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
				delete(rl.hits, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	hits := rl.hits[key]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	if len(pruned) >= rl.limit {
		rl.hits[key] = pruned
		return false, pruned[0].Add(rl.window).Sub(now)
	}
	rl.hits[key] = append(pruned, now)
	return true, 0
}

func clientIPKey(r *http.Request) string {
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
