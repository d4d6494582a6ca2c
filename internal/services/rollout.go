package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	dataagg "github.com/edgeward/fleet-backend/internal/data/aggregates"
	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// RolloutService is the phased rollout command and query surface.
type RolloutService interface {
	Create(ctx context.Context, in domainagg.CreateRolloutInput) (*types.Rollout, error)
	Execute(ctx context.Context, cmd rollouts.Command, in domainagg.RolloutCommandInput) (*types.Rollout, error)
	ReportAssignment(ctx context.Context, in domainagg.ReportAssignmentInput) (domainagg.AssignmentResult, error)
	RetryAssignment(ctx context.Context, in domainagg.RetryAssignmentInput) (domainagg.AssignmentResult, error)

	// Get returns the rollout with phases and assignments attached.
	Get(ctx context.Context, tenantID, rolloutID uuid.UUID) (*types.Rollout, error)
	List(ctx context.Context, filter repos.RolloutListFilter) ([]*types.Rollout, int64, error)
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]*types.Rollout, error)
	History(ctx context.Context, tenantID, bundleID uuid.UUID) ([]*types.Rollout, error)
	Events(ctx context.Context, tenantID, rolloutID uuid.UUID) ([]*types.RolloutEvent, error)
}

type rolloutService struct {
	log         *logger.Logger
	agg         domainagg.PhasedRolloutAggregate
	rollouts    repos.RolloutRepo
	phases      repos.RolloutPhaseRepo
	assignments repos.RolloutAssignmentRepo
	events      repos.RolloutEventRepo
	notify      DesiredStateNotifier
}

func NewRolloutService(
	baseLog *logger.Logger,
	agg domainagg.PhasedRolloutAggregate,
	rolloutRepo repos.RolloutRepo,
	phaseRepo repos.RolloutPhaseRepo,
	assignmentRepo repos.RolloutAssignmentRepo,
	eventRepo repos.RolloutEventRepo,
	notify DesiredStateNotifier,
) RolloutService {
	return &rolloutService{
		log:         baseLog.With("service", "RolloutService"),
		agg:         agg,
		rollouts:    rolloutRepo,
		phases:      phaseRepo,
		assignments: assignmentRepo,
		events:      eventRepo,
		notify:      notify,
	}
}

func (s *rolloutService) Create(ctx context.Context, in domainagg.CreateRolloutInput) (*types.Rollout, error) {
	res, err := s.agg.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Info("rollout created",
		"rollout_id", res.Rollout.ID,
		"bundle_id", res.Rollout.BundleID,
		"target_version", res.Rollout.TargetVersion,
		"phases", len(res.Rollout.Phases),
	)
	return res.Rollout, nil
}

func (s *rolloutService) Execute(ctx context.Context, cmd rollouts.Command, in domainagg.RolloutCommandInput) (*types.Rollout, error) {
	var (
		res domainagg.RolloutResult
		err error
	)
	switch cmd {
	case rollouts.CommandStart:
		res, err = s.agg.Start(ctx, in)
	case rollouts.CommandPause:
		res, err = s.agg.Pause(ctx, in)
	case rollouts.CommandResume:
		res, err = s.agg.Resume(ctx, in)
	case rollouts.CommandAdvance:
		res, err = s.agg.AdvancePhase(ctx, in)
	case rollouts.CommandRollback:
		res, err = s.agg.Rollback(ctx, in)
	case rollouts.CommandCancel:
		res, err = s.agg.Cancel(ctx, in)
	case rollouts.CommandFail:
		res, err = s.agg.Fail(ctx, in)
	default:
		return nil, domainagg.NewError(domainagg.CodeValidation, "Rollouts.Execute", fmt.Sprintf("unknown command %q", cmd), nil)
	}
	if err != nil {
		return nil, err
	}
	s.notify.DesiredStatesChanged(ctx, "phased_"+string(cmd), res.DesiredStates)
	s.log.WithContext(ctx).Info("rollout command applied",
		"rollout_id", res.Rollout.ID,
		"command", string(cmd),
		"actor", in.Actor,
		"status", string(res.Rollout.Status),
		"phase", res.Rollout.CurrentPhaseNumber,
		"desired_state_writes", len(res.DesiredStates),
	)
	return res.Rollout, nil
}

func (s *rolloutService) ReportAssignment(ctx context.Context, in domainagg.ReportAssignmentInput) (domainagg.AssignmentResult, error) {
	return s.agg.ReportAssignment(ctx, in)
}

func (s *rolloutService) RetryAssignment(ctx context.Context, in domainagg.RetryAssignmentInput) (domainagg.AssignmentResult, error) {
	res, err := s.agg.RetryAssignment(ctx, in)
	if err != nil {
		return res, err
	}
	s.notify.DesiredStatesChanged(ctx, "phased_retry", res.DesiredStates)
	return res, nil
}

func (s *rolloutService) Get(ctx context.Context, tenantID, rolloutID uuid.UUID) (*types.Rollout, error) {
	const op = "Rollouts.Get"
	dbc := dbctx.Of(ctx)
	r, err := s.load(op, dbc, tenantID, rolloutID)
	if err != nil {
		return nil, err
	}
	phases, err := s.phases.ListByRolloutID(dbc, r.ID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	assignments, err := s.assignments.ListByRolloutID(dbc, r.ID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	dataagg.AttachChildren(r, phases, assignments)
	return r, nil
}

func (s *rolloutService) List(ctx context.Context, filter repos.RolloutListFilter) ([]*types.Rollout, int64, error) {
	const op = "Rollouts.List"
	filter = filter.Normalize()
	if filter.Status != "" {
		if _, ok := rollouts.ParseRolloutStatus(filter.Status); !ok {
			return nil, 0, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unknown status %q", filter.Status), nil)
		}
	}
	rows, total, err := s.rollouts.List(dbctx.Of(ctx), filter)
	if err != nil {
		return nil, 0, dataagg.MapError(op, err)
	}
	if err := s.attachPhases(ctx, rows); err != nil {
		return nil, 0, dataagg.MapError(op, err)
	}
	return rows, total, nil
}

func (s *rolloutService) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*types.Rollout, error) {
	const op = "Rollouts.ListActive"
	if tenantID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing tenant_id", nil)
	}
	rows, err := s.rollouts.ListActiveByTenant(dbctx.Of(ctx), tenantID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	if err := s.attachPhases(ctx, rows); err != nil {
		return nil, dataagg.MapError(op, err)
	}
	return rows, nil
}

func (s *rolloutService) History(ctx context.Context, tenantID, bundleID uuid.UUID) ([]*types.Rollout, error) {
	const op = "Rollouts.History"
	if bundleID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing bundle_id", nil)
	}
	rows, err := s.rollouts.ListByBundle(dbctx.Of(ctx), tenantID, bundleID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	return rows, nil
}

func (s *rolloutService) Events(ctx context.Context, tenantID, rolloutID uuid.UUID) ([]*types.RolloutEvent, error) {
	const op = "Rollouts.Events"
	dbc := dbctx.Of(ctx)
	if _, err := s.load(op, dbc, tenantID, rolloutID); err != nil {
		return nil, err
	}
	rows, err := s.events.ListByRolloutID(dbc, rolloutID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	return rows, nil
}

func (s *rolloutService) load(op string, dbc dbctx.Context, tenantID, rolloutID uuid.UUID) (*types.Rollout, error) {
	if rolloutID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing rollout_id", nil)
	}
	r, err := s.rollouts.GetByID(dbc, rolloutID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	if r == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "rollout not found", nil)
	}
	if tenantID != uuid.Nil && r.TenantID != tenantID {
		return nil, domainagg.NewError(domainagg.CodeForbidden, op, "rollout belongs to another tenant", nil)
	}
	return r, nil
}

func (s *rolloutService) attachPhases(ctx context.Context, rows []*types.Rollout) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	byID := make(map[uuid.UUID]*types.Rollout, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		byID[r.ID] = r
	}
	phases, err := s.phases.ListByRolloutIDs(dbctx.Of(ctx), ids)
	if err != nil {
		return err
	}
	for _, p := range phases {
		if r, ok := byID[p.RolloutID]; ok {
			r.Phases = append(r.Phases, p)
		}
	}
	for _, r := range rows {
		r.SortPhases()
	}
	return nil
}
