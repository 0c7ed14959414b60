package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// clientBucket tracks token-bucket state for one client.
type clientBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-client token bucket parameterized by an
// arbitrary window (100 requests/15min for standard endpoints, 10/h for
// the trigger endpoint) rather than a fixed per-minute figure.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	rate      float64 // tokens per second
	maxTokens float64
}

// NewRateLimiter builds a limiter allowing limit requests per window,
// with burst capacity equal to limit.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:   make(map[string]*clientBucket),
		rate:      float64(limit) / window.Seconds(),
		maxTokens: float64(limit),
	}
	go rl.cleanup(window)
	return rl
}

func (rl *RateLimiter) cleanup(window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-window)
		rl.mu.Lock()
		for key, bucket := range rl.clients {
			bucket.mu.Lock()
			stale := bucket.lastRefill.Before(cutoff)
			bucket.mu.Unlock()
			if stale {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow reports whether a request from clientID may proceed, consuming
// one token if so.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	bucket, ok := rl.clients[clientID]
	if !ok {
		bucket = &clientBucket{tokens: rl.maxTokens, lastRefill: time.Now()}
		rl.clients[clientID] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * rl.rate
	if bucket.tokens > rl.maxTokens {
		bucket.tokens = rl.maxTokens
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// Middleware returns a gin handler enforcing rl per client IP (or
// X-Forwarded-For when present, for requests behind a proxy).
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Forwarded-For")
		if clientID == "" {
			clientID = c.ClientIP()
		}
		if !rl.Allow(clientID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"message": "rate limit exceeded",
					"code":    "RATE_LIMITED",
				},
			})
			return
		}
		c.Next()
	}
}
