package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	httpH "github.com/edgeward/fleet-backend/internal/http/handlers"
	httpMW "github.com/edgeward/fleet-backend/internal/http/middleware"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	CORSOrigins    []string
	AuthMiddleware *httpMW.AuthMiddleware

	RolloutHandler     *httpH.RolloutHandler
	FlatRolloutHandler *httpH.FlatRolloutHandler
	DeviceHandler      *httpH.DeviceHandler
	HealthHandler      *httpH.HealthHandler
}

var rolloutCommands = []rollouts.Command{
	rollouts.CommandStart,
	rollouts.CommandPause,
	rollouts.CommandResume,
	rollouts.CommandAdvance,
	rollouts.CommandRollback,
	rollouts.CommandCancel,
	rollouts.CommandFail,
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Device agents poll and report without operator credentials.
	if cfg.DeviceHandler != nil {
		api.GET("/devices/:id/desired", cfg.DeviceHandler.Desired)
		api.POST("/devices/:id/report", cfg.DeviceHandler.Report)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireTenant())
		}

		// Phased rollouts
		if h := cfg.RolloutHandler; h != nil {
			protected.POST("/rollouts", h.Create)
			protected.GET("/rollouts", h.List)
			protected.GET("/rollouts/active", h.Active)
			protected.GET("/bundles/:id/rollouts", h.History)
			protected.GET("/rollouts/:id", h.Get)
			protected.GET("/rollouts/:id/events", h.Events)
			for _, cmd := range rolloutCommands {
				protected.POST("/rollouts/:id/"+string(cmd), h.Command(cmd))
			}
			protected.POST("/rollouts/:id/assignments/:deviceId/report", h.ReportAssignment)
			protected.POST("/rollouts/:id/assignments/:deviceId/retry", h.RetryAssignment)
		}

		// Flat rollouts
		if h := cfg.FlatRolloutHandler; h != nil {
			protected.POST("/flat-rollouts", h.Create)
			protected.GET("/flat-rollouts/:groupId", h.Get)
			protected.POST("/flat-rollouts/:groupId/cancel", h.Cancel)
			protected.GET("/bundles/:id/flat-rollouts", h.ListByBundle)
			protected.POST("/flat-rollout-records/:id/status", h.UpdateStatus)
		}
	}

	return r
}
