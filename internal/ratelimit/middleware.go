package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// remainingReporter is implemented by limiters that can report the calls
// left in the current window.
type remainingReporter interface {
	Remaining(key string, limit int, window time.Duration) int
}

// Middleware limits each client to limit requests per window on a route.
// Limiter errors fail open.
func Middleware(limiter Limiter, route string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := route + ":" + c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if r, ok := limiter.(remainingReporter); ok {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(r.Remaining(key, limit, window)))
		}
		if !allowed {
			retryAfter := window
			if m, ok := limiter.(*MemoryLimiter); ok {
				retryAfter = m.RetryAfter(key, limit, window)
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}
		c.Next()
	}
}
