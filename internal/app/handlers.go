package app

import (
	"gorm.io/gorm"

	httpH "github.com/edgeward/fleet-backend/internal/http/handlers"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type Handlers struct {
	Health  *httpH.HealthHandler
	Rollout *httpH.RolloutHandler
	Flat    *httpH.FlatRolloutHandler
	Device  *httpH.DeviceHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:  httpH.NewHealthHandler(db),
		Rollout: httpH.NewRolloutHandler(services.Rollouts),
		Flat:    httpH.NewFlatRolloutHandler(services.Flat),
		Device:  httpH.NewDeviceHandler(services.Devices),
	}
}
