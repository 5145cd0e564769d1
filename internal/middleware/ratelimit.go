package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkgrade/inkgrade-backend/internal/response"
)

// RateLimiter applies a per-client-IP token bucket. Tokens refill
// continuously, so a client that bursts to the limit regains one request
// every interval/limit rather than waiting out the whole window. State is
// in-process; with several API replicas each enforces its own budget, which
// is acceptable for what this protects (credential stuffing on the auth
// endpoints, not precise quota accounting).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   float64
	window  time.Duration
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// NewRateLimiter allows limit requests per window per IP and starts a
// janitor that drops buckets idle long enough to be full again.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   float64(limit),
		window:  window,
	}
	go rl.janitor()
	return rl
}

// Middleware rejects requests over the budget with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.limit, refilled: now}
		rl.buckets[key] = b
	}

	b.tokens += rl.limit * now.Sub(b.refilled).Seconds() / rl.window.Seconds()
	if b.tokens > rl.limit {
		b.tokens = rl.limit
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.window)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if b.refilled.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
