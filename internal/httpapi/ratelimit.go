package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// callerLimiter tracks one source IP's token bucket, whether it's an
// investor's browser hitting /api/agents or a script hammering
// /api/agents/:id/matches.
type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces per-caller-IP
// token-bucket rate limiting in front of the agent/client HTTP API. rps is
// the steady-state requests per second; burst is the maximum burst size.
// Callers idle for more than 10 minutes are forgotten every 5 minutes so the
// map doesn't grow unbounded under a churn of distinct IPs.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	callers := make(map[string]*callerLimiter)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for ip, l := range callers {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(callers, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := callers[ip]
		if !ok {
			l = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			callers[ip] = l
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
