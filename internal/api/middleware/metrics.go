package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/metrics"
)

// Metrics records request counts and latency by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
