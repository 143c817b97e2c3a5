package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces token-bucket rate
// limiting keyed by tenant and client IP. rps is the steady-state requests
// per second; burst is the maximum burst size. Stale entries are cleaned
// every 5 minutes.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*callerLimiter)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for key, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		key := tenantFromCtx(c) + "|" + c.ClientIP()

		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
