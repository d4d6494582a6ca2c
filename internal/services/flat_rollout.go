package services

import (
	"context"
	"sort"

	"github.com/google/uuid"

	dataagg "github.com/edgeward/fleet-backend/internal/data/aggregates"
	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type FlatGroupDetail struct {
	Summary rollouts.FlatGroupSummary  `json:"summary"`
	Records []*types.FlatRolloutRecord `json:"records"`
}

// FlatRolloutService is the flat rollout command and query surface.
type FlatRolloutService interface {
	Create(ctx context.Context, in domainagg.CreateFlatRolloutInput) (domainagg.CreateFlatRolloutResult, error)
	Cancel(ctx context.Context, in domainagg.CancelFlatRolloutInput) (domainagg.CancelFlatRolloutResult, error)
	UpdateStatus(ctx context.Context, in domainagg.UpdateFlatStatusInput) (domainagg.UpdateFlatStatusResult, error)

	GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*FlatGroupDetail, error)
	// ListByBundle returns one summary per rollout group, newest first.
	ListByBundle(ctx context.Context, tenantID, bundleID uuid.UUID) ([]rollouts.FlatGroupSummary, error)
}

type flatRolloutService struct {
	log     *logger.Logger
	agg     domainagg.FlatRolloutAggregate
	records repos.FlatRolloutRecordRepo
	notify  DesiredStateNotifier
}

func NewFlatRolloutService(baseLog *logger.Logger, agg domainagg.FlatRolloutAggregate, records repos.FlatRolloutRecordRepo, notify DesiredStateNotifier) FlatRolloutService {
	return &flatRolloutService{
		log:     baseLog.With("service", "FlatRolloutService"),
		agg:     agg,
		records: records,
		notify:  notify,
	}
}

func (s *flatRolloutService) Create(ctx context.Context, in domainagg.CreateFlatRolloutInput) (domainagg.CreateFlatRolloutResult, error) {
	res, err := s.agg.Create(ctx, in)
	if err != nil {
		return res, err
	}
	s.notify.DesiredStatesChanged(ctx, "flat_create", res.DesiredStates)
	s.log.WithContext(ctx).Info("flat rollout created",
		"rollout_group_id", res.RolloutGroupID,
		"bundle_id", in.BundleID,
		"version", in.Version,
		"device_count", res.DeviceCount,
	)
	return res, nil
}

func (s *flatRolloutService) Cancel(ctx context.Context, in domainagg.CancelFlatRolloutInput) (domainagg.CancelFlatRolloutResult, error) {
	res, err := s.agg.Cancel(ctx, in)
	if err != nil {
		return res, err
	}
	s.log.WithContext(ctx).Info("flat rollout cancelled", "rollout_group_id", in.RolloutGroupID, "cancelled", res.Cancelled)
	return res, nil
}

func (s *flatRolloutService) UpdateStatus(ctx context.Context, in domainagg.UpdateFlatStatusInput) (domainagg.UpdateFlatStatusResult, error) {
	return s.agg.UpdateStatus(ctx, in)
}

func (s *flatRolloutService) GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*FlatGroupDetail, error) {
	const op = "Rollouts.Flat.GetGroup"
	if groupID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_group_id", nil)
	}
	rows, err := s.records.ListByGroupID(dbctx.Of(ctx), groupID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	if len(rows) == 0 {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "flat rollout group not found", nil)
	}
	if tenantID != uuid.Nil && rows[0].TenantID != tenantID {
		return nil, domainagg.NewError(domainagg.CodeForbidden, op, "flat rollout group belongs to another tenant", nil)
	}
	return &FlatGroupDetail{Summary: rollouts.SummarizeFlatGroup(groupID, rows), Records: rows}, nil
}

func (s *flatRolloutService) ListByBundle(ctx context.Context, tenantID, bundleID uuid.UUID) ([]rollouts.FlatGroupSummary, error) {
	const op = "Rollouts.Flat.ListByBundle"
	if bundleID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing bundle_id", nil)
	}
	rows, err := s.records.ListByBundle(dbctx.Of(ctx), bundleID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	groups := make(map[uuid.UUID][]*types.FlatRolloutRecord)
	for _, r := range rows {
		if tenantID != uuid.Nil && r.TenantID != tenantID {
			continue
		}
		groups[r.RolloutGroupID] = append(groups[r.RolloutGroupID], r)
	}
	out := make([]rollouts.FlatGroupSummary, 0, len(groups))
	for id, recs := range groups {
		out = append(out, rollouts.SummarizeFlatGroup(id, recs))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RolloutGroupID.String() < out[j].RolloutGroupID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
