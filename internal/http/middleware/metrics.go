package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgeward/fleet-backend/internal/observability"
)

// Metrics records request latency per route. Probes are not recorded and
// long-polls are labelled separately so their hold time does not skew the
// operator API histogram.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		class := classify(c)
		if class == routeProbe {
			c.Next()
			return
		}
		start := time.Now()
		if class == routeLongPoll {
			m.LongPollWaitersInc()
			defer m.LongPollWaitersDec()
		} else {
			m.ApiInflightInc()
			defer m.ApiInflightDec()
		}

		c.Next()

		route := routeOf(c)
		if class == routeLongPoll {
			route += "?wait"
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
