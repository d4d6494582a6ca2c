package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/ctxutil"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/healthcheck", ok)
	r.GET("/api/devices/:id/desired", func(c *gin.Context) { c.Status(http.StatusNotModified) })
	r.GET("/api/rollouts/:id", ok)
	return r
}

func serve(r http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestClassify(t *testing.T) {
	var got []string
	r := newRouter(func(c *gin.Context) {
		c.Next()
		got = append(got, classify(c))
	})

	serve(r, "/healthcheck")
	serve(r, "/api/devices/d1/desired?wait=30")
	serve(r, "/api/devices/d1/desired")
	serve(r, "/api/rollouts/r1")

	assert.Equal(t, []string{routeProbe, routeLongPoll, routeAPI, routeAPI}, got)
}

func TestMetricsSeparatesLongPolls(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := newRouter(Metrics(m))

	serve(r, "/healthcheck")
	serve(r, "/api/devices/d1/desired?wait=5")
	serve(r, "/api/rollouts/r1")

	reg := m.Registry()
	n, err := testutil.GatherAndCount(reg, "fleet_api_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "probe must not be recorded")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	routes := map[string]bool{}
	for _, mf := range mfs {
		if mf.GetName() != "fleet_api_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "route" {
					routes[l.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, routes["/api/devices/:id/desired?wait"])
	assert.True(t, routes["/api/rollouts/:id"])
}

func TestAttachTraceContext(t *testing.T) {
	var td *ctxutil.TraceData
	r := newRouter(AttachTraceContext(), func(c *gin.Context) {
		td = ctxutil.GetTraceData(c.Request.Context())
		c.Next()
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rollouts/r1", nil)
	req.Header.Set(headerRequestID, "req-1")
	req.Header.Set(headerTraceID, "trace-1")
	r.ServeHTTP(rec, req)

	require.NotNil(t, td)
	assert.Equal(t, "req-1", td.RequestID)
	assert.Equal(t, "trace-1", td.TraceID)
	assert.Equal(t, "req-1", rec.Header().Get(headerRequestID))
	assert.Equal(t, "trace-1", rec.Header().Get(headerTraceID))

	rec = serve(r, "/api/rollouts/r1")
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.NotEmpty(t, rec.Header().Get(headerTraceID))
}
