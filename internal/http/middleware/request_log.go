package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgeward/fleet-backend/internal/platform/ctxutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// RequestLogger writes one line per request. Probes are skipped; long-polls
// that end without a change (304) only log at debug.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		class := classify(c)
		if class == routeProbe {
			return
		}
		status := c.Writer.Status()
		fields := append([]any{
			"method", c.Request.Method,
			"route", routeOf(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}, ctxutil.LogFields(c.Request.Context())...)
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields...)
		case class == routeLongPoll && status == http.StatusNotModified:
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
