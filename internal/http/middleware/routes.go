package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Route classes used to keep probe traffic and agent long-polls out of the
// operator request logs and latency histograms.
const (
	routeProbe    = "probe"
	routeLongPoll = "long_poll"
	routeAPI      = "api"
)

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func classify(c *gin.Context) string {
	switch route := c.FullPath(); {
	case route == "/healthcheck", route == "/readyz", route == "/metrics":
		return routeProbe
	case strings.HasSuffix(route, "/devices/:id/desired") && c.Query("wait") != "":
		return routeLongPoll
	default:
		return routeAPI
	}
}
