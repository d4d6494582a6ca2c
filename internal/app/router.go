package app

import (
	"github.com/gin-gonic/gin"

	"github.com/edgeward/fleet-backend/internal/http"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:                log,
		Metrics:            metrics,
		ServiceName:        cfg.ServiceName,
		CORSOrigins:        cfg.CORSOrigins,
		AuthMiddleware:     middleware.Auth,
		RolloutHandler:     handlers.Rollout,
		FlatRolloutHandler: handlers.Flat,
		DeviceHandler:      handlers.Device,
		HealthHandler:      handlers.Health,
	})
}
