package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	repotest "github.com/edgeward/fleet-backend/internal/data/repos/testutil"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
)

type memDesiredStates struct {
	mu   sync.Mutex
	rows map[uuid.UUID]types.DesiredState
}

func newMemDesiredStates() *memDesiredStates {
	return &memDesiredStates{rows: map[uuid.UUID]types.DesiredState{}}
}

func (m *memDesiredStates) Upsert(_ dbctx.Context, rows []*types.DesiredState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.DeviceID] = *r
	}
	return nil
}

func (m *memDesiredStates) GetByDevice(_ dbctx.Context, deviceID uuid.UUID) (*types.DesiredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[deviceID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memDesiredStates) GetByDevices(dbc dbctx.Context, deviceIDs []uuid.UUID) ([]*types.DesiredState, error) {
	out := make([]*types.DesiredState, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		if r, _ := m.GetByDevice(dbc, id); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memDesiredStates) ListByBundle(_ dbctx.Context, bundleID uuid.UUID) ([]*types.DesiredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.DesiredState
	for _, r := range m.rows {
		if r.BundleID == bundleID {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

func newWaitService(desired *memDesiredStates, hub *realtime.Hub) DeviceService {
	return NewDeviceService(logger.Nop(), DeviceServiceDeps{Desired: desired, Hub: hub, MaxWait: 5 * time.Second})
}

func TestWaitDesiredReturnsImmediatelyOnStaleETag(t *testing.T) {
	desired := newMemDesiredStates()
	deviceID, bundleID := uuid.New(), uuid.New()
	row := &types.DesiredState{DeviceID: deviceID, BundleID: bundleID, Version: "1.0.0", AssignedAt: time.Now().UTC()}
	_ = desired.Upsert(dbctx.Context{}, []*types.DesiredState{row})
	hub := realtime.NewHub(logger.Nop(), nil)
	svc := newWaitService(desired, hub)

	start := time.Now()
	ds, changed, err := svc.WaitDesired(context.Background(), deviceID, `"stale"`, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitDesired: %v", err)
	}
	if !changed || ds == nil || ds.Version != "1.0.0" {
		t.Fatalf("expected changed desired state, got changed=%v ds=%+v", changed, ds)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("stale etag should not block")
	}
	if hub.Waiting(deviceID) != 0 {
		t.Fatalf("waiter should be removed")
	}
}

func TestWaitDesiredTimesOutWhenCurrent(t *testing.T) {
	desired := newMemDesiredStates()
	deviceID := uuid.New()
	row := &types.DesiredState{DeviceID: deviceID, BundleID: uuid.New(), Version: "1.0.0", AssignedAt: time.Now().UTC()}
	_ = desired.Upsert(dbctx.Context{}, []*types.DesiredState{row})
	svc := newWaitService(desired, realtime.NewHub(logger.Nop(), nil))

	_, changed, err := svc.WaitDesired(context.Background(), deviceID, row.ETag(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitDesired: %v", err)
	}
	if changed {
		t.Fatalf("current etag should report unchanged")
	}
}

func TestWaitDesiredWakesOnBroadcast(t *testing.T) {
	desired := newMemDesiredStates()
	deviceID, bundleID := uuid.New(), uuid.New()
	first := &types.DesiredState{DeviceID: deviceID, BundleID: bundleID, Version: "1.0.0", AssignedAt: time.Now().UTC()}
	_ = desired.Upsert(dbctx.Context{}, []*types.DesiredState{first})
	hub := realtime.NewHub(logger.Nop(), nil)
	svc := newWaitService(desired, hub)

	type result struct {
		ds      *types.DesiredState
		changed bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		ds, changed, err := svc.WaitDesired(context.Background(), deviceID, first.ETag(), 5*time.Second)
		done <- result{ds, changed, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Waiting(deviceID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("waiter never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second := &types.DesiredState{DeviceID: deviceID, BundleID: bundleID, Version: "2.0.0", AssignedAt: first.AssignedAt.Add(time.Second)}
	_ = desired.Upsert(dbctx.Context{}, []*types.DesiredState{second})
	hub.Broadcast(realtime.DesiredStateChanged(second))

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("WaitDesired: %v", res.err)
		}
		if !res.changed || res.ds.Version != "2.0.0" {
			t.Fatalf("expected wake with 2.0.0, got changed=%v ds=%+v", res.changed, res.ds)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("waiter was not woken")
	}
}

func TestDeviceReportRoutesFlatAndPhased(t *testing.T) {
	f := newServiceFixture(t)
	group, devices := repotest.SeedGroup(t, f.ctx, f.tx, f.tenantID, 4)
	devices = rollouts.SortDeviceIDs(devices)

	r, err := f.rolloutService().Create(f.ctx, domainagg.CreateRolloutInput{
		TenantID:            f.tenantID,
		BundleID:            f.bundle.ID,
		TargetVersion:       "2.0.0",
		Name:                "wave",
		TargetDeviceGroupID: group.ID,
		Phases:              []domainagg.PhaseSpec{{Percentage: 50}, {Percentage: 50}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.rolloutService().Execute(f.ctx, rollouts.CommandStart, domainagg.RolloutCommandInput{TenantID: f.tenantID, RolloutID: r.ID}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	target := devices[0]
	if _, err := f.flatService().Create(f.ctx, domainagg.CreateFlatRolloutInput{
		TenantID: f.tenantID, BundleID: f.bundle.ID, Version: "2.0.0",
		TargetType: domainagg.TargetDevice, TargetIDs: []uuid.UUID{target},
	}); err != nil {
		t.Fatalf("flat Create: %v", err)
	}

	svc := f.deviceService()

	ds, err := svc.GetDesired(f.ctx, target)
	if err != nil {
		t.Fatalf("GetDesired: %v", err)
	}
	if ds.Version != "2.0.0" {
		t.Fatalf("desired version: %s", ds.Version)
	}

	res, err := svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "in_progress"})
	if err != nil {
		t.Fatalf("Report in_progress: %v", err)
	}
	if res.FlatRecord == nil || res.FlatRecord.Status != rollouts.FlatInProgress || len(res.Assignments) != 1 {
		t.Fatalf("in_progress routing: %+v", res)
	}

	res, err = svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "succeeded"})
	if err != nil {
		t.Fatalf("Report succeeded: %v", err)
	}
	if res.FlatRecord.Status != rollouts.FlatSucceeded {
		t.Fatalf("flat status: %s", res.FlatRecord.Status)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Status != rollouts.AssignmentSucceeded {
		t.Fatalf("assignment routing: %+v", res.Assignments)
	}

	// A device without a flat record is routed to its assignment only.
	res, err = svc.Report(f.ctx, DeviceReport{DeviceID: devices[1], BundleID: f.bundle.ID, Version: "2.0.0", Status: "failed", ErrorMessage: "disk full"})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if res.FlatRecord != nil || len(res.Assignments) != 1 || res.Assignments[0].Status != rollouts.AssignmentFailed {
		t.Fatalf("phased-only routing: %+v", res)
	}

	_, err = svc.Report(f.ctx, DeviceReport{DeviceID: devices[3], BundleID: f.bundle.ID, Version: "2.0.0", Status: "succeeded"})
	requireCode(t, err, domainagg.CodeNotFound)

	_, err = svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "9.9.9", Status: "succeeded"})
	requireCode(t, err, domainagg.CodeNotFound)

	_, err = svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "failed"})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "rebooting"})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = svc.GetDesired(f.ctx, uuid.New())
	requireCode(t, err, domainagg.CodeNotFound)
}

func TestDeviceReportRejectedByOneTargetWritesNothing(t *testing.T) {
	f := newServiceFixture(t)
	group, devices := repotest.SeedGroup(t, f.ctx, f.tx, f.tenantID, 2)
	devices = rollouts.SortDeviceIDs(devices)
	target := devices[0]

	r, err := f.rolloutService().Create(f.ctx, domainagg.CreateRolloutInput{
		TenantID:            f.tenantID,
		BundleID:            f.bundle.ID,
		TargetVersion:       "2.0.0",
		Name:                "wave",
		TargetDeviceGroupID: group.ID,
		Phases:              []domainagg.PhaseSpec{{Percentage: 100}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.rolloutService().Execute(f.ctx, rollouts.CommandStart, domainagg.RolloutCommandInput{TenantID: f.tenantID, RolloutID: r.ID}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc := f.deviceService()
	if _, err := svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "succeeded"}); err != nil {
		t.Fatalf("Report succeeded: %v", err)
	}

	// A new flat record for the same device and version opens after the assignment settled.
	if _, err := f.flatService().Create(f.ctx, domainagg.CreateFlatRolloutInput{
		TenantID: f.tenantID, BundleID: f.bundle.ID, Version: "2.0.0",
		TargetType: domainagg.TargetDevice, TargetIDs: []uuid.UUID{target},
	}); err != nil {
		t.Fatalf("flat Create: %v", err)
	}

	_, err = svc.Report(f.ctx, DeviceReport{DeviceID: target, BundleID: f.bundle.ID, Version: "2.0.0", Status: "failed", ErrorMessage: "x"})
	requireCode(t, err, domainagg.CodeValidation)

	rec, err := f.repos.FlatRolloutRecord.FindOpenForDevice(dbctx.Of(f.ctx), target, f.bundle.ID, "2.0.0")
	if err != nil {
		t.Fatalf("FindOpenForDevice: %v", err)
	}
	if rec == nil || rec.Status != rollouts.FlatPending || rec.ErrorMessage != "" {
		t.Fatalf("flat record mutated by a rejected report: %+v", rec)
	}
	as, err := f.repos.RolloutAssignment.GetByRolloutAndDevice(dbctx.Of(f.ctx), r.ID, target)
	if err != nil || as == nil || as.Status != rollouts.AssignmentSucceeded {
		t.Fatalf("assignment: %+v err=%v", as, err)
	}
}
