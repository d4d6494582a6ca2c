package aggregates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

// DefaultFlatAssignedBy attributes flat assignments made without an explicit actor.
const DefaultFlatAssignedBy = "manual"

type FlatRolloutAggregateDeps struct {
	Base BaseDeps

	Records      repos.FlatRolloutRecordRepo
	DesiredState domainagg.DesiredStateSink
	Bundles      domainagg.BundleLookup
	Groups       domainagg.GroupResolver

	Now func() time.Time
}

type flatRolloutAggregate struct {
	deps FlatRolloutAggregateDeps
}

func NewFlatRolloutAggregate(deps FlatRolloutAggregateDeps) domainagg.FlatRolloutAggregate {
	deps.Base = deps.Base.withDefaults()
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &flatRolloutAggregate{deps: deps}
}

func (a *flatRolloutAggregate) Contract() domainagg.Contract {
	return domainagg.FlatRolloutAggregateContract
}

func (a *flatRolloutAggregate) at(t time.Time) time.Time {
	if t.IsZero() {
		return a.deps.Now()
	}
	return t.UTC()
}

func (a *flatRolloutAggregate) Create(ctx context.Context, in domainagg.CreateFlatRolloutInput) (domainagg.CreateFlatRolloutResult, error) {
	const op = "Rollouts.Flat.Create"
	var out domainagg.CreateFlatRolloutResult

	if a.deps.Records == nil || a.deps.DesiredState == nil || a.deps.Bundles == nil || a.deps.Groups == nil {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "flat rollout aggregate not configured", nil)
	}
	version := strings.TrimSpace(in.Version)
	switch {
	case in.BundleID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing bundle_id", nil)
	case version == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing version", nil)
	case in.TargetType != domainagg.TargetDevice && in.TargetType != domainagg.TargetGroup:
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unsupported target_type %q", in.TargetType), nil)
	case len(in.TargetIDs) == 0:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "target_ids must not be empty", nil)
	}

	deviceIDs, err := a.resolveTargets(ctx, in.TenantID, in.BundleID, version, in.TargetType, in.TargetIDs)
	if err != nil {
		return out, MapError(op, err)
	}

	assignedBy := strings.TrimSpace(in.AssignedBy)
	if assignedBy == "" {
		assignedBy = DefaultFlatAssignedBy
	}
	now := a.at(in.CreatedAt)
	groupID := uuid.New()
	records := make([]*types.FlatRolloutRecord, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		records = append(records, &types.FlatRolloutRecord{
			ID:             uuid.New(),
			TenantID:       in.TenantID,
			RolloutGroupID: groupID,
			BundleID:       in.BundleID,
			Version:        version,
			DeviceID:       id,
			Status:         rollouts.FlatPending,
			AssignedBy:     assignedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	states := desiredStates(deviceIDs, in.BundleID, version, assignedBy, now)

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := a.deps.DesiredState.Upsert(dbc, states); err != nil {
			return err
		}
		if _, err := a.deps.Records.Create(dbc, records); err != nil {
			return err
		}
		out = domainagg.CreateFlatRolloutResult{
			RolloutGroupID: groupID,
			DeviceCount:    len(records),
			Records:        records,
			DesiredStates:  states,
		}
		return nil
	})
	if err != nil {
		return domainagg.CreateFlatRolloutResult{}, err
	}
	return out, nil
}

// resolveTargets checks the bundle and expands targets into sorted, unique device ids.
func (a *flatRolloutAggregate) resolveTargets(ctx context.Context, tenantID, bundleID uuid.UUID, version string, targetType domainagg.TargetType, targetIDs []uuid.UUID) ([]uuid.UUID, error) {
	bundle, err := a.deps.Bundles.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, ValidationError("bundle not found")
	}
	if tenantID != uuid.Nil && bundle.TenantID != tenantID {
		return nil, ForbiddenError("bundle belongs to another tenant")
	}
	bv, err := a.deps.Bundles.GetBundleVersion(ctx, bundleID, version)
	if err != nil {
		return nil, err
	}
	if bv == nil {
		return nil, ValidationError(fmt.Sprintf("bundle version %q not found", version))
	}

	var resolved []uuid.UUID
	switch targetType {
	case domainagg.TargetDevice:
		resolved = append(resolved, targetIDs...)
	case domainagg.TargetGroup:
		for _, gid := range targetIDs {
			group, err := a.deps.Groups.GetGroup(ctx, gid)
			if err != nil {
				return nil, err
			}
			if group == nil {
				return nil, ValidationError(fmt.Sprintf("device group %s not found", gid))
			}
			if tenantID != uuid.Nil && group.TenantID != tenantID {
				return nil, ForbiddenError("device group belongs to another tenant")
			}
			ids, err := a.deps.Groups.GetDeviceIDsInGroup(ctx, gid)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, ids...)
		}
	}
	resolved = rollouts.SortDeviceIDs(resolved)
	if len(resolved) == 0 {
		return nil, ValidationError("targets resolved to no devices")
	}
	return resolved, nil
}

func (a *flatRolloutAggregate) Cancel(ctx context.Context, in domainagg.CancelFlatRolloutInput) (domainagg.CancelFlatRolloutResult, error) {
	const op = "Rollouts.Flat.Cancel"
	var out domainagg.CancelFlatRolloutResult
	if a.deps.Records == nil {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "flat rollout aggregate not configured", nil)
	}
	if in.RolloutGroupID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_group_id", nil)
	}

	now := a.at(in.At)
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		records, err := a.deps.Records.LockByGroupID(dbc, in.RolloutGroupID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return NotFoundError("flat rollout group not found")
		}
		if in.TenantID != uuid.Nil && records[0].TenantID != in.TenantID {
			return ForbiddenError("flat rollout group belongs to another tenant")
		}
		cancelled := 0
		for _, rec := range records {
			if !rec.Status.IsCancellable() {
				continue
			}
			if err := rec.ApplyStatus(rollouts.FlatCancelled, "", now); err != nil {
				return err
			}
			if err := a.persist(dbc, rec); err != nil {
				return err
			}
			cancelled++
		}
		out = domainagg.CancelFlatRolloutResult{
			RolloutGroupID: in.RolloutGroupID,
			Cancelled:      cancelled,
			Summary:        rollouts.SummarizeFlatGroup(in.RolloutGroupID, records),
		}
		return nil
	})
	if err != nil {
		return domainagg.CancelFlatRolloutResult{}, err
	}
	return out, nil
}

func (a *flatRolloutAggregate) UpdateStatus(ctx context.Context, in domainagg.UpdateFlatStatusInput) (domainagg.UpdateFlatStatusResult, error) {
	const op = "Rollouts.Flat.UpdateStatus"
	var out domainagg.UpdateFlatStatusResult
	if a.deps.Records == nil {
		return out, domainagg.NewError(domainagg.CodeUnexpected, op, "flat rollout aggregate not configured", nil)
	}
	if in.RecordID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing record id", nil)
	}
	if _, ok := rollouts.ParseFlatStatus(string(in.Status)); !ok {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unknown status %q", in.Status), nil)
	}

	now := a.at(in.At)
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		rec, err := a.deps.Records.LockByID(dbc, in.RecordID)
		if err != nil {
			return err
		}
		if rec == nil {
			return NotFoundError("flat rollout record not found")
		}
		if in.TenantID != uuid.Nil && rec.TenantID != in.TenantID {
			return ForbiddenError("flat rollout record belongs to another tenant")
		}
		if err := rec.ApplyStatus(in.Status, strings.TrimSpace(in.ErrorMessage), now); err != nil {
			return err
		}
		if err := a.persist(dbc, rec); err != nil {
			return err
		}
		out = domainagg.UpdateFlatStatusResult{Record: rec}
		return nil
	})
	if err != nil {
		return domainagg.UpdateFlatStatusResult{}, err
	}
	return out, nil
}

func (a *flatRolloutAggregate) persist(dbc dbctx.Context, rec *types.FlatRolloutRecord) error {
	rec.UpdatedAt = a.at(time.Time{})
	return a.deps.Records.UpdateFields(dbc, rec.ID, map[string]interface{}{
		"status":        string(rec.Status),
		"started_at":    rec.StartedAt,
		"completed_at":  rec.CompletedAt,
		"error_message": rec.ErrorMessage,
		"retry_count":   rec.RetryCount,
		"updated_at":    rec.UpdatedAt,
	})
}
