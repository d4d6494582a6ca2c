package aggregates

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	catalogrepo "github.com/edgeward/fleet-backend/internal/data/repos/catalog"
	repotest "github.com/edgeward/fleet-backend/internal/data/repos/testutil"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type phasedFixture struct {
	ctx      context.Context
	tx       *gorm.DB
	repos    repos.Set
	agg      domainagg.PhasedRolloutAggregate
	tenantID uuid.UUID
	bundle   *types.Bundle
	group    *types.DeviceGroup
	devices  []uuid.UUID
}

func newPhasedFixture(t *testing.T, groupSize int) *phasedFixture {
	t.Helper()
	db := repotest.DB(t)
	tx := repotest.Tx(t, db)
	log := repotest.Logger(t)
	ctx := context.Background()

	set := repos.NewSet(tx, log)
	lookup := catalogrepo.NewLookup(set.Bundle, set.DeviceGroup)
	tenantID := uuid.New()
	bundle := repotest.SeedBundle(t, ctx, tx, tenantID, "1.0.0", "2.0.0")
	group, devices := repotest.SeedGroup(t, ctx, tx, tenantID, groupSize)

	agg := NewPhasedRolloutAggregate(PhasedRolloutAggregateDeps{
		Base: BaseDeps{
			DB:       tx,
			Log:      log,
			Runner:   NewGormTxRunner(tx),
			CASGuard: NewCASGuard(tx),
		},
		Rollouts:     set.Rollout,
		Phases:       set.RolloutPhase,
		Assignments:  set.RolloutAssignment,
		Events:       set.RolloutEvent,
		DesiredState: set.DesiredState,
		Bundles:      lookup,
		Groups:       lookup,
		Now:          func() time.Time { return testNow },
	})
	return &phasedFixture{
		ctx:      ctx,
		tx:       tx,
		repos:    set,
		agg:      agg,
		tenantID: tenantID,
		bundle:   bundle,
		group:    group,
		devices:  rollouts.SortDeviceIDs(devices),
	}
}

func (f *phasedFixture) dbc() dbctx.Context { return dbctx.Of(f.ctx) }

func (f *phasedFixture) createInput(pcts ...float64) domainagg.CreateRolloutInput {
	phases := make([]domainagg.PhaseSpec, 0, len(pcts))
	for _, p := range pcts {
		phases = append(phases, domainagg.PhaseSpec{Percentage: p})
	}
	return domainagg.CreateRolloutInput{
		TenantID:            f.tenantID,
		BundleID:            f.bundle.ID,
		TargetVersion:       "2.0.0",
		Name:                "canary",
		TargetDeviceGroupID: f.group.ID,
		Phases:              phases,
	}
}

func (f *phasedFixture) create(t *testing.T, in domainagg.CreateRolloutInput) *types.Rollout {
	t.Helper()
	res, err := f.agg.Create(f.ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res.Rollout
}

func (f *phasedFixture) cmd(id uuid.UUID) domainagg.RolloutCommandInput {
	return domainagg.RolloutCommandInput{TenantID: f.tenantID, RolloutID: id, Actor: "ops@example.com"}
}

func (f *phasedFixture) assignedDevices(t *testing.T, rolloutID uuid.UUID) map[uuid.UUID]uuid.UUID {
	t.Helper()
	rows, err := f.repos.RolloutAssignment.ListByRolloutID(f.dbc(), rolloutID)
	if err != nil {
		t.Fatalf("ListByRolloutID: %v", err)
	}
	out := make(map[uuid.UUID]uuid.UUID, len(rows))
	for _, row := range rows {
		if _, dup := out[row.DeviceID]; dup {
			t.Fatalf("device %s assigned twice", row.DeviceID)
		}
		out[row.DeviceID] = row.PhaseID
	}
	return out
}

func (f *phasedFixture) phases(t *testing.T, rolloutID uuid.UUID) []*types.RolloutPhase {
	t.Helper()
	rows, err := f.repos.RolloutPhase.ListByRolloutID(f.dbc(), rolloutID)
	if err != nil {
		t.Fatalf("phases: %v", err)
	}
	return rows
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

func TestPhasedRolloutCreateComputesPhaseCounts(t *testing.T) {
	f := newPhasedFixture(t, 100)
	r := f.create(t, f.createInput(10, 30, 60))

	if r.Status != rollouts.RolloutPending {
		t.Fatalf("status: want=pending got=%s", r.Status)
	}
	if r.Version != 1 {
		t.Fatalf("version: want=1 got=%d", r.Version)
	}
	if r.FailureThreshold != rollouts.DefaultFailureThreshold {
		t.Fatalf("failure threshold: want=%v got=%v", rollouts.DefaultFailureThreshold, r.FailureThreshold)
	}
	phases := f.phases(t, r.ID)
	want := []int{10, 30, 60}
	if len(phases) != len(want) {
		t.Fatalf("phase count: want=%d got=%d", len(want), len(phases))
	}
	for i, p := range phases {
		if p.PhaseNumber != i || p.TargetDeviceCount != want[i] || p.Status != rollouts.PhasePending {
			t.Fatalf("phase %d: number=%d count=%d status=%s", i, p.PhaseNumber, p.TargetDeviceCount, p.Status)
		}
	}
	if got := f.assignedDevices(t, r.ID); len(got) != 0 {
		t.Fatalf("assignments before start: want=0 got=%d", len(got))
	}
	events, err := f.repos.RolloutEvent.ListByRolloutID(f.dbc(), r.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Command != rollouts.CommandCreate {
		t.Fatalf("create event missing: %+v", events)
	}
}

func TestPhasedRolloutCreateValidation(t *testing.T) {
	f := newPhasedFixture(t, 5)

	_, err := f.agg.Create(f.ctx, f.createInput(50, 40))
	requireCode(t, err, domainagg.CodeValidation)

	in := f.createInput(100)
	in.TargetVersion = "9.9.9"
	_, err = f.agg.Create(f.ctx, in)
	requireCode(t, err, domainagg.CodeValidation)

	in = f.createInput(100)
	in.TargetDeviceGroupID = uuid.New()
	_, err = f.agg.Create(f.ctx, in)
	requireCode(t, err, domainagg.CodeValidation)

	empty := &types.DeviceGroup{ID: uuid.New(), TenantID: f.tenantID, Name: "empty"}
	if err := f.tx.Create(empty).Error; err != nil {
		t.Fatalf("seed empty group: %v", err)
	}
	in = f.createInput(100)
	in.TargetDeviceGroupID = empty.ID
	_, err = f.agg.Create(f.ctx, in)
	requireCode(t, err, domainagg.CodeValidation)

	in = f.createInput(100)
	in.TenantID = uuid.New()
	_, err = f.agg.Create(f.ctx, in)
	requireCode(t, err, domainagg.CodeForbidden)
}

func TestPhasedRolloutCreateRejectsSecondActiveRollout(t *testing.T) {
	f := newPhasedFixture(t, 10)
	first := f.create(t, f.createInput(50, 50))

	_, err := f.agg.Create(f.ctx, f.createInput(100))
	requireCode(t, err, domainagg.CodeConflict)

	if _, err := f.agg.Cancel(f.ctx, f.cmd(first.ID)); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.create(t, f.createInput(100))
}

func TestPhasedRolloutStartAdvanceCancel(t *testing.T) {
	f := newPhasedFixture(t, 100)
	r := f.create(t, f.createInput(10, 30, 60))

	started, err := f.agg.Start(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Rollout.Status != rollouts.RolloutInProgress || started.Rollout.StartedAt == nil {
		t.Fatalf("after start: status=%s startedAt=%v", started.Rollout.Status, started.Rollout.StartedAt)
	}
	if started.Rollout.Version != 2 {
		t.Fatalf("version after start: want=2 got=%d", started.Rollout.Version)
	}
	if len(started.DesiredStates) != 10 {
		t.Fatalf("desired states written: want=10 got=%d", len(started.DesiredStates))
	}
	phases := f.phases(t, r.ID)
	if phases[0].Status != rollouts.PhaseInProgress || phases[0].StartedAt == nil {
		t.Fatalf("phase 0 after start: %s", phases[0].Status)
	}
	assigned := f.assignedDevices(t, r.ID)
	if len(assigned) != 10 {
		t.Fatalf("phase 0 assignments: want=10 got=%d", len(assigned))
	}
	for _, id := range f.devices[:10] {
		if _, ok := assigned[id]; !ok {
			t.Fatalf("device %s should be in phase 0 (stable order)", id)
		}
		ds, err := f.repos.DesiredState.GetByDevice(f.dbc(), id)
		if err != nil || ds == nil {
			t.Fatalf("desired state for %s: %v", id, err)
		}
		if ds.Version != "2.0.0" || ds.AssignedBy != "Rollout: canary" {
			t.Fatalf("desired state: version=%s assignedBy=%s", ds.Version, ds.AssignedBy)
		}
	}

	advanced, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	if advanced.Rollout.CurrentPhaseNumber != 1 || advanced.Rollout.Status != rollouts.RolloutInProgress {
		t.Fatalf("after advance: phase=%d status=%s", advanced.Rollout.CurrentPhaseNumber, advanced.Rollout.Status)
	}
	phases = f.phases(t, r.ID)
	if phases[0].Status != rollouts.PhaseCompleted || phases[1].Status != rollouts.PhaseInProgress {
		t.Fatalf("phase statuses: %s %s", phases[0].Status, phases[1].Status)
	}
	assigned = f.assignedDevices(t, r.ID)
	if len(assigned) != 40 {
		t.Fatalf("assignments after advance: want=40 got=%d", len(assigned))
	}
	phase1 := 0
	for _, phaseID := range assigned {
		if phaseID == phases[1].ID {
			phase1++
		}
	}
	if phase1 != 30 {
		t.Fatalf("phase 1 assignments: want=30 got=%d", phase1)
	}

	cancelled, err := f.agg.Cancel(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Rollout.Status != rollouts.RolloutCancelled || cancelled.Rollout.CompletedAt == nil {
		t.Fatalf("after cancel: %s", cancelled.Rollout.Status)
	}
	for id := range assigned {
		ds, err := f.repos.DesiredState.GetByDevice(f.dbc(), id)
		if err != nil || ds == nil || ds.Version != "2.0.0" {
			t.Fatalf("desired state changed by cancel for %s: %+v %v", id, ds, err)
		}
	}

	_, err = f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)
	if got := f.assignedDevices(t, r.ID); len(got) != 40 {
		t.Fatalf("assignments after rejected advance: want=40 got=%d", len(got))
	}
}

func TestPhasedRolloutAdvanceClampsToRemainingDevices(t *testing.T) {
	f := newPhasedFixture(t, 7)
	r := f.create(t, f.createInput(50, 50))

	phases := f.phases(t, r.ID)
	if phases[0].TargetDeviceCount != 4 || phases[1].TargetDeviceCount != 4 {
		t.Fatalf("counts: want=[4 4] got=[%d %d]", phases[0].TargetDeviceCount, phases[1].TargetDeviceCount)
	}
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	if len(res.DesiredStates) != 3 {
		t.Fatalf("phase 1 selection: want=3 got=%d", len(res.DesiredStates))
	}
	if got := f.assignedDevices(t, r.ID); len(got) != 7 {
		t.Fatalf("total assignments: want=7 got=%d", len(got))
	}

	done, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("final AdvancePhase: %v", err)
	}
	if done.Rollout.Status != rollouts.RolloutCompleted || done.Rollout.CompletedAt == nil {
		t.Fatalf("after last advance: %s", done.Rollout.Status)
	}
	phases = f.phases(t, r.ID)
	if phases[1].Status != rollouts.PhaseCompleted {
		t.Fatalf("last phase status: %s", phases[1].Status)
	}
}

func TestPhasedRolloutAdvanceUsesLiveGroupMembership(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(50, 50))
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	phases := f.phases(t, r.ID)
	before := f.assignedDevices(t, r.ID)
	for _, id := range f.devices[:2] {
		if before[id] != phases[0].ID {
			t.Fatalf("device %s should be in phase 0", id)
		}
	}

	// One phase-0 device and one unassigned device leave; a new device joins.
	left := []uuid.UUID{f.devices[0], f.devices[3]}
	if err := f.repos.DeviceGroup.RemoveMembers(f.dbc(), f.group.ID, left); err != nil {
		t.Fatalf("RemoveMembers: %v", err)
	}
	joined := repotest.SeedDevices(t, f.ctx, f.tx, f.tenantID, 1)[0]
	if err := f.repos.DeviceGroup.AddMembers(f.dbc(), f.group.ID, []uuid.UUID{joined}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}

	res, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	selected := map[uuid.UUID]bool{}
	for _, ds := range res.DesiredStates {
		selected[ds.DeviceID] = true
	}
	if len(selected) != 2 || !selected[f.devices[2]] || !selected[joined] {
		t.Fatalf("phase 1 should draw the remaining live members %s and %s, got %v", f.devices[2], joined, selected)
	}

	after := f.assignedDevices(t, r.ID)
	if len(after) != 4 {
		t.Fatalf("total assignments: want=4 got=%d", len(after))
	}
	if after[f.devices[0]] != phases[0].ID || after[f.devices[1]] != phases[0].ID {
		t.Fatalf("phase-0 assignments must be kept")
	}
	if _, ok := after[f.devices[3]]; ok {
		t.Fatalf("device %s left the group and must not be assigned", f.devices[3])
	}
	if after[f.devices[2]] != phases[1].ID || after[joined] != phases[1].ID {
		t.Fatalf("phase 1 assignments: %v", after)
	}
}

func TestPhasedRolloutAdvanceFailsWhenNoDevicesRemain(t *testing.T) {
	f := newPhasedFixture(t, 2)
	r := f.create(t, f.createInput(50, 25, 25))
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	_, err := f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)

	got, err := f.repos.Rollout.GetByID(f.dbc(), r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CurrentPhaseNumber != 1 {
		t.Fatalf("failed advance must not move the phase: got=%d", got.CurrentPhaseNumber)
	}
	phases := f.phases(t, r.ID)
	if phases[1].Status != rollouts.PhaseInProgress || phases[2].Status != rollouts.PhasePending {
		t.Fatalf("phase statuses after failed advance: %s %s", phases[1].Status, phases[2].Status)
	}
}

func TestPhasedRolloutIllegalTransitions(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(100))

	_, err := f.agg.Pause(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)
	_, err = f.agg.Resume(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)
	_, err = f.agg.Rollback(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)

	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = f.agg.Start(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)
	_, err = f.agg.Resume(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)

	paused, err := f.agg.Pause(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Rollout.Status != rollouts.RolloutPaused {
		t.Fatalf("status after pause: %s", paused.Rollout.Status)
	}
	_, err = f.agg.AdvancePhase(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)

	resumed, err := f.agg.Resume(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Rollout.Status != rollouts.RolloutInProgress {
		t.Fatalf("status after resume: %s", resumed.Rollout.Status)
	}
}

func TestPhasedRolloutRollbackRevertsDesiredState(t *testing.T) {
	f := newPhasedFixture(t, 10)
	in := f.createInput(20, 80)
	prev := "1.0.0"
	in.PreviousVersion = &prev
	r := f.create(t, in)

	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.agg.Pause(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	res, err := f.agg.Rollback(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.Rollout.Status != rollouts.RolloutRolledBack {
		t.Fatalf("status: want=rolled_back got=%s", res.Rollout.Status)
	}
	if len(res.DesiredStates) != 2 {
		t.Fatalf("reverted devices: want=2 got=%d", len(res.DesiredStates))
	}
	for _, id := range f.devices[:2] {
		ds, err := f.repos.DesiredState.GetByDevice(f.dbc(), id)
		if err != nil || ds == nil {
			t.Fatalf("desired state: %v", err)
		}
		if ds.Version != "1.0.0" || ds.AssignedBy != "Rollout rollback: canary" {
			t.Fatalf("rolled back desired state: version=%s assignedBy=%s", ds.Version, ds.AssignedBy)
		}
	}
	phases := f.phases(t, r.ID)
	if phases[0].Status != rollouts.PhaseFailed {
		t.Fatalf("current phase after rollback: %s", phases[0].Status)
	}
}

func TestPhasedRolloutRollbackWithoutPreviousVersionIsStatusOnly(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(100))
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := f.agg.Rollback(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.Rollout.Status != rollouts.RolloutRolledBack || len(res.DesiredStates) != 0 {
		t.Fatalf("rollback: status=%s writes=%d", res.Rollout.Status, len(res.DesiredStates))
	}
	ds, err := f.repos.DesiredState.GetByDevice(f.dbc(), f.devices[0])
	if err != nil || ds == nil || ds.Version != "2.0.0" {
		t.Fatalf("desired state should be untouched: %+v %v", ds, err)
	}
}

func TestPhasedRolloutFailMarksCurrentPhaseFailed(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(50, 50))
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := f.agg.Fail(f.ctx, f.cmd(r.ID))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if res.Rollout.Status != rollouts.RolloutFailed {
		t.Fatalf("status: %s", res.Rollout.Status)
	}
	phases := f.phases(t, r.ID)
	if phases[0].Status != rollouts.PhaseFailed || phases[1].Status != rollouts.PhasePending {
		t.Fatalf("phases: %s %s", phases[0].Status, phases[1].Status)
	}
	_, err = f.agg.Cancel(f.ctx, f.cmd(r.ID))
	requireCode(t, err, domainagg.CodeValidation)
}

func TestPhasedRolloutStaleExpectationsConflict(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(50, 50))

	in := f.cmd(r.ID)
	stale := int64(7)
	in.ExpectedVersion = &stale
	_, err := f.agg.Start(f.ctx, in)
	requireCode(t, err, domainagg.CodeConflict)

	current := int64(1)
	in.ExpectedVersion = &current
	if _, err := f.agg.Start(f.ctx, in); err != nil {
		t.Fatalf("Start with matching version: %v", err)
	}

	in = f.cmd(r.ID)
	phase := 1
	in.ExpectedPhaseNumber = &phase
	_, err = f.agg.AdvancePhase(f.ctx, in)
	requireCode(t, err, domainagg.CodeConflict)

	in = f.cmd(r.ID)
	paused := rollouts.RolloutPaused
	in.ExpectedStatus = &paused
	_, err = f.agg.AdvancePhase(f.ctx, in)
	requireCode(t, err, domainagg.CodeConflict)
}

func TestPhasedRolloutTenantAndNotFound(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(100))

	in := f.cmd(r.ID)
	in.TenantID = uuid.New()
	_, err := f.agg.Start(f.ctx, in)
	requireCode(t, err, domainagg.CodeForbidden)

	_, err = f.agg.Pause(f.ctx, f.cmd(uuid.New()))
	requireCode(t, err, domainagg.CodeNotFound)

	_, err = f.agg.Start(f.ctx, f.cmd(uuid.Nil))
	requireCode(t, err, domainagg.CodeValidation)
}

func TestPhasedRolloutReportAndRetryAssignment(t *testing.T) {
	f := newPhasedFixture(t, 4)
	r := f.create(t, f.createInput(100))
	if _, err := f.agg.Start(f.ctx, f.cmd(r.ID)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	device := f.devices[0]

	failed, err := f.agg.ReportAssignment(f.ctx, domainagg.ReportAssignmentInput{
		TenantID: f.tenantID, RolloutID: r.ID, DeviceID: device,
		Status: rollouts.AssignmentFailed, ErrorMessage: "image pull failed",
	})
	if err != nil {
		t.Fatalf("ReportAssignment failed: %v", err)
	}
	if !failed.Changed || failed.Phase.FailureCount != 1 {
		t.Fatalf("failure report: changed=%v failures=%d", failed.Changed, failed.Phase.FailureCount)
	}

	dup, err := f.agg.ReportAssignment(f.ctx, domainagg.ReportAssignmentInput{
		RolloutID: r.ID, DeviceID: device,
		Status: rollouts.AssignmentFailed, ErrorMessage: "image pull failed",
	})
	if err != nil {
		t.Fatalf("duplicate report: %v", err)
	}
	if dup.Changed || dup.Phase.FailureCount != 1 {
		t.Fatalf("duplicate report must be a no-op: changed=%v failures=%d", dup.Changed, dup.Phase.FailureCount)
	}

	retried, err := f.agg.RetryAssignment(f.ctx, domainagg.RetryAssignmentInput{
		TenantID: f.tenantID, RolloutID: r.ID, DeviceID: device, Actor: "ops",
	})
	if err != nil {
		t.Fatalf("RetryAssignment: %v", err)
	}
	if retried.Assignment.Status != rollouts.AssignmentAssigned || retried.Assignment.RetryCount != 1 {
		t.Fatalf("retry: status=%s retries=%d", retried.Assignment.Status, retried.Assignment.RetryCount)
	}
	if retried.Phase.FailureCount != 0 || len(retried.DesiredStates) != 1 {
		t.Fatalf("retry: failures=%d writes=%d", retried.Phase.FailureCount, len(retried.DesiredStates))
	}

	ok, err := f.agg.ReportAssignment(f.ctx, domainagg.ReportAssignmentInput{
		RolloutID: r.ID, DeviceID: device, Status: rollouts.AssignmentSucceeded,
	})
	if err != nil {
		t.Fatalf("success report: %v", err)
	}
	if ok.Phase.SuccessCount != 1 || ok.Phase.FailureCount != 0 {
		t.Fatalf("counters: success=%d failure=%d", ok.Phase.SuccessCount, ok.Phase.FailureCount)
	}
	stored := f.phases(t, r.ID)[0]
	if stored.SuccessCount != 1 || stored.FailureCount != 0 {
		t.Fatalf("persisted counters: success=%d failure=%d", stored.SuccessCount, stored.FailureCount)
	}

	_, err = f.agg.RetryAssignment(f.ctx, domainagg.RetryAssignmentInput{RolloutID: r.ID, DeviceID: device})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = f.agg.ReportAssignment(f.ctx, domainagg.ReportAssignmentInput{
		RolloutID: r.ID, DeviceID: uuid.New(), Status: rollouts.AssignmentSucceeded,
	})
	requireCode(t, err, domainagg.CodeNotFound)
}
