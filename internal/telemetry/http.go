package telemetry

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPLogger logs every request start and finish with latency and
// status, mirroring what the gRPC logging interceptor did for the old
// transport.
func HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		slog.InfoContext(c.Request.Context(), "http: started call",
			"method", c.Request.Method,
			"path", c.FullPath(),
		)

		c.Next()

		slog.InfoContext(c.Request.Context(), "http: finished call",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
