package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
)

// RequestLogger logs one line per request with method, path, status,
// and latency. Streaming endpoints log on disconnect.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if status >= 500 {
			logger.Error("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), status, latency)
		} else {
			logger.Info("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), status, latency)
		}
	}
}

// MetricsMiddleware records per-request counters and latency.
func MetricsMiddleware(metrics *observability.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
