package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

// RateLimiter is a fixed-window per-caller limiter. Authenticated callers are
// keyed by user id so a NAT'd office does not share one bucket; everyone else
// falls back to client IP.
type RateLimiter struct {
	limit  int
	window time.Duration
	codec  *token.Codec

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	windowStart time.Time
	count       int
}

func NewRateLimiter(rpm int, codec *token.Codec) *RateLimiter {
	return &RateLimiter{
		limit:   rpm,
		window:  time.Minute,
		codec:   codec,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Handler returns the gin middleware. A non-positive limit disables limiting.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		if !rl.allow(rl.callerKey(c)) {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests.",
			})
			return
		}
		c.Next()
	}
}

// callerKey identifies the caller without rejecting the request: the bearer
// token is decoded best effort and never enforced here.
func (rl *RateLimiter) callerKey(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		if userID, ok := rl.codec.PeekUserID(strings.TrimSpace(parts[1])); ok {
			return "user:" + strconv.FormatInt(int64(userID), 10)
		}
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowStart) >= rl.window {
		rl.buckets[key] = &bucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= rl.limit {
		return false
	}
	b.count++
	return true
}

// sweep drops buckets whose window has lapsed so churning client IPs do not
// grow the map without bound. At most one pass per window. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) >= rl.window {
			delete(rl.buckets, key)
		}
	}
}
