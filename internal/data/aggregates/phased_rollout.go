package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

type PhasedRolloutAggregateDeps struct {
	Base BaseDeps

	Rollouts    repos.RolloutRepo
	Phases      repos.RolloutPhaseRepo
	Assignments repos.RolloutAssignmentRepo
	Events      repos.RolloutEventRepo

	DesiredState domainagg.DesiredStateSink
	Bundles      domainagg.BundleLookup
	Groups       domainagg.GroupResolver

	Now func() time.Time
}

type phasedRolloutAggregate struct {
	deps PhasedRolloutAggregateDeps
}

func NewPhasedRolloutAggregate(deps PhasedRolloutAggregateDeps) domainagg.PhasedRolloutAggregate {
	deps.Base = deps.Base.withDefaults()
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &phasedRolloutAggregate{deps: deps}
}

func (a *phasedRolloutAggregate) Contract() domainagg.Contract {
	return domainagg.PhasedRolloutAggregateContract
}

func (a *phasedRolloutAggregate) configured() bool {
	d := a.deps
	return d.Rollouts != nil && d.Phases != nil && d.Assignments != nil && d.Events != nil &&
		d.DesiredState != nil && d.Bundles != nil && d.Groups != nil
}

func (a *phasedRolloutAggregate) at(t time.Time) time.Time {
	if t.IsZero() {
		return a.deps.Now()
	}
	return t.UTC()
}

func (a *phasedRolloutAggregate) Create(ctx context.Context, in domainagg.CreateRolloutInput) (domainagg.RolloutResult, error) {
	const op = "Rollouts.Phased.Create"
	var out domainagg.RolloutResult

	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "phased rollout aggregate not configured", nil)
	}
	name := strings.TrimSpace(in.Name)
	targetVersion := strings.TrimSpace(in.TargetVersion)
	switch {
	case in.TenantID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing tenant_id", nil)
	case in.BundleID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing bundle_id", nil)
	case targetVersion == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing target_version", nil)
	case name == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing name", nil)
	case in.TargetDeviceGroupID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing target_device_group_id", nil)
	}

	threshold := rollouts.DefaultFailureThreshold
	if in.FailureThreshold != nil {
		threshold = *in.FailureThreshold
	}
	if threshold < 0 || threshold > 1 {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "failure_threshold must be between 0 and 1", nil)
	}

	pcts := make([]float64, 0, len(in.Phases))
	for i, p := range in.Phases {
		if p.MinHealthyDuration != nil && *p.MinHealthyDuration < 0 {
			return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("phase %d min_healthy_duration must not be negative", i), nil)
		}
		pcts = append(pcts, p.Percentage)
	}
	if err := rollouts.ValidatePercentages(pcts); err != nil {
		return out, MapError(op, err)
	}

	var previousVersion *string
	if in.PreviousVersion != nil && strings.TrimSpace(*in.PreviousVersion) != "" {
		v := strings.TrimSpace(*in.PreviousVersion)
		previousVersion = &v
	}

	// Collaborator reads happen before the write transaction.
	deviceIDs, err := a.validateReferences(ctx, in.TenantID, in.BundleID, targetVersion, previousVersion, in.TargetDeviceGroupID)
	if err != nil {
		return out, MapError(op, err)
	}
	counts := rollouts.PhaseDeviceCounts(len(deviceIDs), pcts)

	now := a.at(in.CreatedAt)
	groupID := in.TargetDeviceGroupID
	rollout := &types.Rollout{
		ID:                  uuid.New(),
		TenantID:            in.TenantID,
		BundleID:            in.BundleID,
		TargetVersion:       targetVersion,
		PreviousVersion:     previousVersion,
		Name:                name,
		Description:         trimmedPtr(in.Description),
		TargetDeviceGroupID: &groupID,
		CreatedBy:           trimmedPtr(in.CreatedBy),
		FailureThreshold:    threshold,
		CurrentPhaseNumber:  0,
		Status:              rollouts.RolloutPending,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	phases := make([]*types.RolloutPhase, 0, len(in.Phases))
	for i, p := range in.Phases {
		phaseName := strings.TrimSpace(p.Name)
		if phaseName == "" {
			phaseName = fmt.Sprintf("Phase %d", i+1)
		}
		var minHealthy *int64
		if p.MinHealthyDuration != nil {
			secs := int64(p.MinHealthyDuration.Round(time.Second) / time.Second)
			minHealthy = &secs
		}
		phases = append(phases, &types.RolloutPhase{
			ID:                        uuid.New(),
			RolloutID:                 rollout.ID,
			PhaseNumber:               i,
			Name:                      phaseName,
			TargetDeviceCount:         counts[i],
			TargetPercentage:          p.Percentage,
			MinHealthyDurationSeconds: minHealthy,
			Status:                    rollouts.PhasePending,
			CreatedAt:                 now,
			UpdatedAt:                 now,
		})
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		active, err := a.deps.Rollouts.ExistsActiveForBundle(dbc, in.BundleID)
		if err != nil {
			return err
		}
		if active {
			return ConflictError("an active rollout already exists for this bundle")
		}
		if _, err := a.deps.Rollouts.Create(dbc, []*types.Rollout{rollout}); err != nil {
			return err
		}
		if _, err := a.deps.Phases.Create(dbc, phases); err != nil {
			return err
		}
		actor := ""
		if rollout.CreatedBy != nil {
			actor = *rollout.CreatedBy
		}
		if err := a.appendEvent(dbc, rollout, rollouts.CommandCreate, "", rollouts.RolloutPending, "", actor, map[string]any{
			"group_device_count": len(deviceIDs),
			"phase_counts":       counts,
		}, now); err != nil {
			return err
		}
		rollout.Phases = phases
		out = domainagg.RolloutResult{Rollout: rollout}
		return nil
	})
	return out, err
}

func (a *phasedRolloutAggregate) validateReferences(ctx context.Context, tenantID, bundleID uuid.UUID, targetVersion string, previousVersion *string, groupID uuid.UUID) ([]uuid.UUID, error) {
	bundle, err := a.deps.Bundles.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, ValidationError("bundle not found")
	}
	if bundle.TenantID != tenantID {
		return nil, ForbiddenError("bundle belongs to another tenant")
	}
	if v, err := a.deps.Bundles.GetBundleVersion(ctx, bundleID, targetVersion); err != nil {
		return nil, err
	} else if v == nil {
		return nil, ValidationError(fmt.Sprintf("bundle version %q not found", targetVersion))
	}
	if previousVersion != nil {
		if v, err := a.deps.Bundles.GetBundleVersion(ctx, bundleID, *previousVersion); err != nil {
			return nil, err
		} else if v == nil {
			return nil, ValidationError(fmt.Sprintf("previous bundle version %q not found", *previousVersion))
		}
	}

	group, err := a.deps.Groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ValidationError("target device group not found")
	}
	if group.TenantID != tenantID {
		return nil, ForbiddenError("target device group belongs to another tenant")
	}
	deviceIDs, err := a.deps.Groups.GetDeviceIDsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	deviceIDs = rollouts.SortDeviceIDs(deviceIDs)
	if len(deviceIDs) == 0 {
		return nil, ValidationError("target device group has no devices")
	}
	return deviceIDs, nil
}

func (a *phasedRolloutAggregate) Start(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Start", in, rollouts.CommandStart, true,
		func(dbc dbctx.Context, r *types.Rollout, devices []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
			phase, err := r.Phase(0)
			if err != nil {
				return nil, ValidationError(err.Error())
			}
			if len(devices) == 0 {
				return nil, ValidationError("target device group has no devices")
			}
			if err := phase.Begin(now); err != nil {
				return nil, err
			}
			if err := a.persistPhase(dbc, phase); err != nil {
				return nil, err
			}
			r.StartedAt = &now
			selected := rollouts.SelectDevices(devices, nil, phase.TargetDeviceCount)
			return a.assign(dbc, r, phase, selected, now)
		})
}

func (a *phasedRolloutAggregate) Pause(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Pause", in, rollouts.CommandPause, false, nil)
}

func (a *phasedRolloutAggregate) Resume(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Resume", in, rollouts.CommandResume, false, nil)
}

func (a *phasedRolloutAggregate) AdvancePhase(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.AdvancePhase", in, rollouts.CommandAdvance, true,
		func(dbc dbctx.Context, r *types.Rollout, devices []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
			current, err := r.CurrentPhase()
			if err != nil {
				return nil, ValidationError(err.Error())
			}
			if err := current.Finish(rollouts.PhaseCompleted, now); err != nil {
				return nil, err
			}
			if err := a.persistPhase(dbc, current); err != nil {
				return nil, err
			}
			if r.IsLastPhase(current.PhaseNumber) {
				r.CompletedAt = &now
				return nil, nil
			}

			next, err := r.Phase(current.PhaseNumber + 1)
			if err != nil {
				return nil, ValidationError(err.Error())
			}
			exclude := r.AssignedBefore(next.PhaseNumber)
			selected := rollouts.SelectDevices(devices, exclude, next.TargetDeviceCount)
			if len(selected) == 0 {
				return nil, ValidationError(fmt.Sprintf("no devices available for phase %d", next.PhaseNumber))
			}
			if err := next.Begin(now); err != nil {
				return nil, err
			}
			if err := a.persistPhase(dbc, next); err != nil {
				return nil, err
			}
			r.CurrentPhaseNumber = next.PhaseNumber
			return a.assign(dbc, r, next, selected, now)
		})
}

func (a *phasedRolloutAggregate) Rollback(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Rollback", in, rollouts.CommandRollback, false,
		func(dbc dbctx.Context, r *types.Rollout, _ []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
			if err := a.failCurrentPhase(dbc, r, now); err != nil {
				return nil, err
			}
			r.CompletedAt = &now
			if r.PreviousVersion == nil {
				// Without a recorded previous version rollback is status-only.
				return nil, nil
			}
			assigned := r.AssignmentsThrough(r.CurrentPhaseNumber)
			deviceIDs := make([]uuid.UUID, 0, len(assigned))
			for _, as := range assigned {
				deviceIDs = append(deviceIDs, as.DeviceID)
			}
			rows := desiredStates(deviceIDs, r.BundleID, *r.PreviousVersion, "Rollout rollback: "+r.Name, now)
			if err := a.deps.DesiredState.Upsert(dbc, rows); err != nil {
				return nil, err
			}
			return rows, nil
		})
}

func (a *phasedRolloutAggregate) Cancel(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Cancel", in, rollouts.CommandCancel, false,
		func(_ dbctx.Context, r *types.Rollout, _ []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
			r.CompletedAt = &now
			return nil, nil
		})
}

func (a *phasedRolloutAggregate) Fail(ctx context.Context, in domainagg.RolloutCommandInput) (domainagg.RolloutResult, error) {
	return a.command(ctx, "Rollouts.Phased.Fail", in, rollouts.CommandFail, false,
		func(dbc dbctx.Context, r *types.Rollout, _ []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
			if err := a.failCurrentPhase(dbc, r, now); err != nil {
				return nil, err
			}
			r.CompletedAt = &now
			return nil, nil
		})
}

func (a *phasedRolloutAggregate) failCurrentPhase(dbc dbctx.Context, r *types.Rollout, now time.Time) error {
	current, err := r.CurrentPhase()
	if err != nil || current.Status != rollouts.PhaseInProgress {
		return nil
	}
	if err := current.Finish(rollouts.PhaseFailed, now); err != nil {
		return err
	}
	return a.persistPhase(dbc, current)
}

type commandMutation func(dbc dbctx.Context, r *types.Rollout, devices []uuid.UUID, now time.Time) ([]*types.DesiredState, error)

// command runs one lifecycle command: collaborator reads first, then lock,
// validate, mutate, and a version-guarded update of the root in one transaction.
func (a *phasedRolloutAggregate) command(ctx context.Context, op string, in domainagg.RolloutCommandInput, cmd rollouts.Command, needsDevices bool, mutate commandMutation) (domainagg.RolloutResult, error) {
	var out domainagg.RolloutResult
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "phased rollout aggregate not configured", nil)
	}
	if in.RolloutID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_id", nil)
	}

	var devices []uuid.UUID
	if needsDevices {
		snapshot, err := a.deps.Rollouts.GetByID(dbctx.Of(ctx), in.RolloutID)
		if err != nil {
			return out, MapError(op, err)
		}
		if err := checkRolloutAccess(snapshot, in.TenantID); err != nil {
			return out, MapError(op, err)
		}
		if snapshot.TargetDeviceGroupID != nil {
			ids, err := a.deps.Groups.GetDeviceIDsInGroup(ctx, *snapshot.TargetDeviceGroupID)
			if err != nil {
				return out, MapError(op, err)
			}
			devices = rollouts.SortDeviceIDs(ids)
		}
	}

	now := a.at(in.At)
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		r, err := a.deps.Rollouts.LockByID(dbc, in.RolloutID)
		if err != nil {
			return err
		}
		if err := checkRolloutAccess(r, in.TenantID); err != nil {
			return err
		}
		if err := checkPreconditions(r, in); err != nil {
			return err
		}
		if err := a.hydrate(dbc, r); err != nil {
			return err
		}

		from := r.Status
		fromPhase := r.CurrentPhaseNumber
		to, err := rollouts.NextRolloutStatus(from, cmd, r.IsLastPhase(r.CurrentPhaseNumber))
		if err != nil {
			return err
		}

		var written []*types.DesiredState
		if mutate != nil {
			if written, err = mutate(dbc, r, devices, now); err != nil {
				return err
			}
		}
		r.Status = to

		if err := a.deps.Base.CASGuard.SaveRollout(dbc, r, now); err != nil {
			return err
		}

		meta := map[string]any{"from_phase_number": fromPhase}
		if len(written) > 0 {
			meta["desired_state_writes"] = len(written)
		}
		if err := a.appendEvent(dbc, r, cmd, from, to, in.Reason, in.Actor, meta, now); err != nil {
			return err
		}

		out = domainagg.RolloutResult{Rollout: r, DesiredStates: written}
		return nil
	})
	if err != nil {
		return domainagg.RolloutResult{}, err
	}
	return out, nil
}

func (a *phasedRolloutAggregate) ReportAssignment(ctx context.Context, in domainagg.ReportAssignmentInput) (domainagg.AssignmentResult, error) {
	const op = "Rollouts.Phased.ReportAssignment"
	var out domainagg.AssignmentResult
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "phased rollout aggregate not configured", nil)
	}
	if in.RolloutID == uuid.Nil || in.DeviceID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_id or device_id", nil)
	}
	if in.Status != rollouts.AssignmentSucceeded && in.Status != rollouts.AssignmentFailed {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "status must be succeeded or failed", nil)
	}
	if in.Status == rollouts.AssignmentFailed && strings.TrimSpace(in.ErrorMessage) == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "failed status requires an error message", nil)
	}

	now := a.at(in.At)
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		r, err := a.deps.Rollouts.LockByID(dbc, in.RolloutID)
		if err != nil {
			return err
		}
		if err := checkRolloutAccess(r, in.TenantID); err != nil {
			return err
		}
		if err := a.hydrate(dbc, r); err != nil {
			return err
		}
		phase, assignment := r.FindAssignment(in.DeviceID)
		if assignment == nil {
			return NotFoundError("device has no assignment in this rollout")
		}
		changed, err := assignment.ApplyOutcome(phase, in.Status, strings.TrimSpace(in.ErrorMessage), now)
		if err != nil {
			return err
		}
		if changed {
			if err := a.persistAssignment(dbc, assignment); err != nil {
				return err
			}
			if err := a.persistPhase(dbc, phase); err != nil {
				return err
			}
		}
		out = domainagg.AssignmentResult{Assignment: assignment, Phase: phase, Changed: changed}
		return nil
	})
	if err != nil {
		return domainagg.AssignmentResult{}, err
	}
	return out, nil
}

func (a *phasedRolloutAggregate) RetryAssignment(ctx context.Context, in domainagg.RetryAssignmentInput) (domainagg.AssignmentResult, error) {
	const op = "Rollouts.Phased.RetryAssignment"
	var out domainagg.AssignmentResult
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "phased rollout aggregate not configured", nil)
	}
	if in.RolloutID == uuid.Nil || in.DeviceID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_id or device_id", nil)
	}

	now := a.at(in.At)
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		r, err := a.deps.Rollouts.LockByID(dbc, in.RolloutID)
		if err != nil {
			return err
		}
		if err := checkRolloutAccess(r, in.TenantID); err != nil {
			return err
		}
		if r.Status != rollouts.RolloutInProgress && r.Status != rollouts.RolloutPaused {
			return ValidationError(fmt.Sprintf("cannot retry assignments of a rollout in status %q", r.Status))
		}
		if err := a.hydrate(dbc, r); err != nil {
			return err
		}
		phase, assignment := r.FindAssignment(in.DeviceID)
		if assignment == nil {
			return NotFoundError("device has no assignment in this rollout")
		}
		if assignment.Status != rollouts.AssignmentFailed {
			return ValidationError(fmt.Sprintf("only failed assignments can be retried (status %q)", assignment.Status))
		}
		changed, err := assignment.ApplyOutcome(phase, rollouts.AssignmentAssigned, "", now)
		if err != nil {
			return err
		}
		if err := a.persistAssignment(dbc, assignment); err != nil {
			return err
		}
		if err := a.persistPhase(dbc, phase); err != nil {
			return err
		}
		rows := desiredStates([]uuid.UUID{assignment.DeviceID}, r.BundleID, r.TargetVersion, r.AssignedBy(), now)
		if err := a.deps.DesiredState.Upsert(dbc, rows); err != nil {
			return err
		}
		if err := a.appendEvent(dbc, r, rollouts.CommandRetryAssignment, r.Status, r.Status, "", in.Actor, map[string]any{
			"device_id":   assignment.DeviceID.String(),
			"retry_count": assignment.RetryCount,
		}, now); err != nil {
			return err
		}
		out = domainagg.AssignmentResult{Assignment: assignment, Phase: phase, Changed: changed, DesiredStates: rows}
		return nil
	})
	if err != nil {
		return domainagg.AssignmentResult{}, err
	}
	return out, nil
}

// hydrate loads phases and assignments onto r.
func (a *phasedRolloutAggregate) hydrate(dbc dbctx.Context, r *types.Rollout) error {
	phases, err := a.deps.Phases.ListByRolloutID(dbc, r.ID)
	if err != nil {
		return err
	}
	assignments, err := a.deps.Assignments.ListByRolloutID(dbc, r.ID)
	if err != nil {
		return err
	}
	AttachChildren(r, phases, assignments)
	return nil
}

// AttachChildren groups phases and assignments under r in phase order.
func AttachChildren(r *types.Rollout, phases []*types.RolloutPhase, assignments []*types.RolloutDeviceAssignment) {
	byPhase := make(map[uuid.UUID]*types.RolloutPhase, len(phases))
	for _, p := range phases {
		if p == nil {
			continue
		}
		p.Assignments = nil
		byPhase[p.ID] = p
	}
	for _, as := range assignments {
		if as == nil {
			continue
		}
		if p, ok := byPhase[as.PhaseID]; ok {
			p.Assignments = append(p.Assignments, as)
		}
	}
	r.Phases = phases
	r.SortPhases()
}

func (a *phasedRolloutAggregate) assign(dbc dbctx.Context, r *types.Rollout, phase *types.RolloutPhase, deviceIDs []uuid.UUID, now time.Time) ([]*types.DesiredState, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	rows := make([]*types.RolloutDeviceAssignment, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		assignedAt := now
		rows = append(rows, &types.RolloutDeviceAssignment{
			ID:         uuid.New(),
			RolloutID:  r.ID,
			PhaseID:    phase.ID,
			DeviceID:   id,
			Status:     rollouts.AssignmentAssigned,
			AssignedAt: &assignedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if _, err := a.deps.Assignments.Create(dbc, rows); err != nil {
		return nil, err
	}
	phase.Assignments = append(phase.Assignments, rows...)

	states := desiredStates(deviceIDs, r.BundleID, r.TargetVersion, r.AssignedBy(), now)
	if err := a.deps.DesiredState.Upsert(dbc, states); err != nil {
		return nil, err
	}
	return states, nil
}

func (a *phasedRolloutAggregate) persistPhase(dbc dbctx.Context, p *types.RolloutPhase) error {
	if p == nil {
		return nil
	}
	return a.deps.Phases.UpdateFields(dbc, p.ID, map[string]interface{}{
		"status":        string(p.Status),
		"started_at":    p.StartedAt,
		"completed_at":  p.CompletedAt,
		"success_count": p.SuccessCount,
		"failure_count": p.FailureCount,
	})
}

func (a *phasedRolloutAggregate) persistAssignment(dbc dbctx.Context, as *types.RolloutDeviceAssignment) error {
	return a.deps.Assignments.UpdateFields(dbc, as.ID, map[string]interface{}{
		"status":        string(as.Status),
		"assigned_at":   as.AssignedAt,
		"reconciled_at": as.ReconciledAt,
		"error_message": as.ErrorMessage,
		"retry_count":   as.RetryCount,
	})
}

// appendEvent writes one audit row; the phase number is r's after the command.
func (a *phasedRolloutAggregate) appendEvent(dbc dbctx.Context, r *types.Rollout, cmd rollouts.Command, from, to rollouts.RolloutStatus, reason, actor string, meta map[string]any, now time.Time) error {
	if meta == nil {
		meta = map[string]any{}
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		meta["reason"] = reason
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = a.deps.Events.Create(dbc, []*types.RolloutEvent{{
		ID:          uuid.New(),
		RolloutID:   r.ID,
		Command:     cmd,
		FromStatus:  from,
		ToStatus:    to,
		PhaseNumber: r.CurrentPhaseNumber,
		Actor:       strings.TrimSpace(actor),
		Metadata:    datatypes.JSON(raw),
		CreatedAt:   now,
	}})
	return err
}

func checkRolloutAccess(r *types.Rollout, tenantID uuid.UUID) error {
	if r == nil || r.ID == uuid.Nil {
		return NotFoundError("rollout not found")
	}
	if tenantID != uuid.Nil && r.TenantID != tenantID {
		return ForbiddenError("rollout belongs to another tenant")
	}
	return nil
}

func desiredStates(deviceIDs []uuid.UUID, bundleID uuid.UUID, version, assignedBy string, now time.Time) []*types.DesiredState {
	out := make([]*types.DesiredState, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		out = append(out, &types.DesiredState{
			DeviceID:   id,
			BundleID:   bundleID,
			Version:    version,
			AssignedBy: assignedBy,
			AssignedAt: now,
			UpdatedAt:  now,
		})
	}
	return out
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
