package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a zap-based request logging middleware. It logs the route
// template, not the raw URL: admin codes ride in path params
// (/api/admin/rooms/:code) and query strings (/ws?admin_code=...), and must
// never reach the logs.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		clientIP := c.ClientIP()

		c.Next()

		route := c.FullPath()
		if route == "" {
			// No matching route. The raw path may carry a mistyped secret,
			// so it is withheld too.
			route = "(unmatched)"
		}

		// Streaming endpoints reach this point when the stream closes, so
		// their latency is the stream lifetime.
		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("route", route),
			zap.String("client_ip", clientIP),
		)
	}
}
