package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LimitConcurrentRequests returns a Gin middleware that limits the number
// of concurrent HTTP requests being processed. If the number of active
// requests exceeds `maxConcurrent`, new requests are rejected with HTTP 429.
//
// Provisioning touches the filesystem and Redis; the cap keeps a burst of
// requests from piling up behind the per-service gates.
func LimitConcurrentRequests(maxConcurrent int) gin.HandlerFunc {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	semaphore := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "too many concurrent requests",
			})
		}
	}
}
