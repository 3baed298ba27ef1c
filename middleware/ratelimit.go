package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size. r <= 0 disables limiting.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(r, b, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitBy limits per key. Answer submissions are keyed by session so one
// player cannot drive unbounded model calls.
func RateLimitBy(r rate.Limit, b int, key func(*gin.Context) string) gin.HandlerFunc {
	if r <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := &sync.Map{}

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-limiterIdleAfter)
			limiters.Range(func(k, v any) bool {
				kl := v.(*keyedLimiter)
				kl.mu.Lock()
				stale := kl.lastSeen.Before(cutoff)
				kl.mu.Unlock()
				if stale {
					limiters.Delete(k)
				}
				return true
			})
		}
	}()

	get := func(k string) *rate.Limiter {
		v, _ := limiters.LoadOrStore(k, &keyedLimiter{limiter: rate.NewLimiter(r, b)})
		kl := v.(*keyedLimiter)
		kl.mu.Lock()
		kl.lastSeen = time.Now()
		kl.mu.Unlock()
		return kl.limiter
	}

	return func(c *gin.Context) {
		if !get(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
