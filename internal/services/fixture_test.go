package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dataagg "github.com/edgeward/fleet-backend/internal/data/aggregates"
	"github.com/edgeward/fleet-backend/internal/data/repos"
	catalogrepo "github.com/edgeward/fleet-backend/internal/data/repos/catalog"
	repotest "github.com/edgeward/fleet-backend/internal/data/repos/testutil"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
	"github.com/edgeward/fleet-backend/internal/realtime/bus"
)

type serviceFixture struct {
	ctx      context.Context
	tx       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	phased   domainagg.PhasedRolloutAggregate
	flat     domainagg.FlatRolloutAggregate
	hub      *realtime.Hub
	bus      bus.Bus
	notify   DesiredStateNotifier
	tenantID uuid.UUID
	bundle   *types.Bundle

	mu        sync.Mutex
	published []realtime.Message
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := repotest.DB(t)
	tx := repotest.Tx(t, db)
	log := repotest.Logger(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	set := repos.NewSet(tx, log)
	lookup := catalogrepo.NewLookup(set.Bundle, set.DeviceGroup)
	base := dataagg.BaseDeps{DB: tx, Log: log, Runner: dataagg.NewGormTxRunner(tx), CASGuard: dataagg.NewCASGuard(tx)}

	f := &serviceFixture{
		ctx:      ctx,
		tx:       tx,
		log:      log,
		repos:    set,
		hub:      realtime.NewHub(log, nil),
		bus:      bus.NewMemoryBus(log, nil),
		tenantID: uuid.New(),
	}
	f.phased = dataagg.NewPhasedRolloutAggregate(dataagg.PhasedRolloutAggregateDeps{
		Base:         base,
		Rollouts:     set.Rollout,
		Phases:       set.RolloutPhase,
		Assignments:  set.RolloutAssignment,
		Events:       set.RolloutEvent,
		DesiredState: set.DesiredState,
		Bundles:      lookup,
		Groups:       lookup,
	})
	f.flat = dataagg.NewFlatRolloutAggregate(dataagg.FlatRolloutAggregateDeps{
		Base:         base,
		Records:      set.FlatRolloutRecord,
		DesiredState: set.DesiredState,
		Bundles:      lookup,
		Groups:       lookup,
	})
	f.notify = NewDesiredStateNotifier(log, f.bus, nil)
	if err := f.bus.StartForwarder(ctx, func(m realtime.Message) {
		f.mu.Lock()
		f.published = append(f.published, m)
		f.mu.Unlock()
		f.hub.Broadcast(m)
	}); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	f.bundle = repotest.SeedBundle(t, ctx, tx, f.tenantID, "1.0.0", "2.0.0")
	return f
}

func (f *serviceFixture) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *serviceFixture) rolloutService() RolloutService {
	s := f.repos
	return NewRolloutService(f.log, f.phased, s.Rollout, s.RolloutPhase, s.RolloutAssignment, s.RolloutEvent, f.notify)
}

func (f *serviceFixture) flatService() FlatRolloutService {
	return NewFlatRolloutService(f.log, f.flat, f.repos.FlatRolloutRecord, f.notify)
}

func (f *serviceFixture) deviceService() DeviceService {
	s := f.repos
	return NewDeviceService(f.log, DeviceServiceDeps{
		Desired:     s.DesiredState,
		Devices:     s.Device,
		FlatRecords: s.FlatRolloutRecord,
		Rollouts:    s.Rollout,
		Assignments: s.RolloutAssignment,
		Flat:        f.flat,
		Phased:      f.phased,
		Hub:         f.hub,
		MaxWait:     time.Second,
	})
}

func requireCode(t *testing.T, err error, code domainagg.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !domainagg.IsCode(err, code) {
		t.Fatalf("error code: want=%s got=%s (%v)", code, domainagg.CodeOf(err), err)
	}
}
