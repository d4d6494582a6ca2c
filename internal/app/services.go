package app

import (
	"gorm.io/gorm"

	dataagg "github.com/edgeward/fleet-backend/internal/data/aggregates"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/jobs/monitor"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
	"github.com/edgeward/fleet-backend/internal/realtime/bus"
	"github.com/edgeward/fleet-backend/internal/services"
)

type Services struct {
	PhasedAggregate domainagg.PhasedRolloutAggregate
	FlatAggregate   domainagg.FlatRolloutAggregate

	Notifier services.DesiredStateNotifier
	Rollouts services.RolloutService
	Flat     services.FlatRolloutService
	Devices  services.DeviceService

	Monitor *monitor.Monitor
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, metrics *observability.Metrics, b bus.Bus, hub *realtime.Hub, lock monitor.LeaderLock) Services {
	log.Info("Wiring services...")
	base := dataagg.BaseDeps{
		DB:       db,
		Log:      log,
		Runner:   dataagg.NewGormTxRunner(db),
		Hooks:    dataagg.NewObservabilityHooks(metrics),
		CASGuard: dataagg.NewCASGuard(db),
	}
	phased := dataagg.NewPhasedRolloutAggregate(dataagg.PhasedRolloutAggregateDeps{
		Base:         base,
		Rollouts:     r.Rollout,
		Phases:       r.RolloutPhase,
		Assignments:  r.RolloutAssignment,
		Events:       r.RolloutEvent,
		DesiredState: r.DesiredState,
		Bundles:      r.Lookup,
		Groups:       r.Lookup,
	})
	flat := dataagg.NewFlatRolloutAggregate(dataagg.FlatRolloutAggregateDeps{
		Base:         base,
		Records:      r.FlatRolloutRecord,
		DesiredState: r.DesiredState,
		Bundles:      r.Lookup,
		Groups:       r.Lookup,
	})

	for _, agg := range []domainagg.Aggregate{phased, flat} {
		c := agg.Contract()
		log.Debug("aggregate wired", "aggregate", c.Name, "tables", c.Tables, "desired_state", c.DesiredState)
	}

	notifier := services.NewDesiredStateNotifier(log, b, metrics)
	rolloutSvc := services.NewRolloutService(log, phased, r.Rollout, r.RolloutPhase, r.RolloutAssignment, r.RolloutEvent, notifier)
	flatSvc := services.NewFlatRolloutService(log, flat, r.FlatRolloutRecord, notifier)
	deviceSvc := services.NewDeviceService(log, services.DeviceServiceDeps{
		Desired:     r.DesiredState,
		Devices:     r.Device,
		FlatRecords: r.FlatRolloutRecord,
		Rollouts:    r.Rollout,
		Assignments: r.RolloutAssignment,
		Flat:        flat,
		Phased:      phased,
		Hub:         hub,
		MaxWait:     cfg.LongPollMax,
	})

	mon := monitor.New(log, cfg.Monitor, monitor.Deps{
		Rollouts:  r.Rollout,
		Phases:    r.RolloutPhase,
		Commander: rolloutSvc,
		Lock:      lock,
		Metrics:   metrics,
	})

	return Services{
		PhasedAggregate: phased,
		FlatAggregate:   flat,
		Notifier:        notifier,
		Rollouts:        rolloutSvc,
		Flat:            flatSvc,
		Devices:         deviceSvc,
		Monitor:         mon,
	}
}
