package rollouts

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type RolloutPhaseRepo interface {
	Create(dbc dbctx.Context, rows []*types.RolloutPhase) ([]*types.RolloutPhase, error)
	ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutPhase, error)
	ListByRolloutIDs(dbc dbctx.Context, rolloutIDs []uuid.UUID) ([]*types.RolloutPhase, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type rolloutPhaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRolloutPhaseRepo(db *gorm.DB, baseLog *logger.Logger) RolloutPhaseRepo {
	return &rolloutPhaseRepo{db: db, log: baseLog.With("repo", "RolloutPhaseRepo")}
}

func (r *rolloutPhaseRepo) Create(dbc dbctx.Context, rows []*types.RolloutPhase) ([]*types.RolloutPhase, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.RolloutPhase{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *rolloutPhaseRepo) ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutPhase, error) {
	if rolloutID == uuid.Nil {
		return []*types.RolloutPhase{}, nil
	}
	return r.ListByRolloutIDs(dbc, []uuid.UUID{rolloutID})
}

func (r *rolloutPhaseRepo) ListByRolloutIDs(dbc dbctx.Context, rolloutIDs []uuid.UUID) ([]*types.RolloutPhase, error) {
	t := dbc.DB(r.db)
	var out []*types.RolloutPhase
	if len(rolloutIDs) == 0 {
		return out, nil
	}
	if err := t.
		Where("rollout_id IN ?", rolloutIDs).
		Order("rollout_id ASC").
		Order("phase_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutPhaseRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	t := dbc.DB(r.db)
	if id == uuid.Nil {
		return nil
	}
	return t.
		Model(&types.RolloutPhase{}).
		Where("id = ?", id).
		Updates(rolloutTouch(updates)).Error
}
