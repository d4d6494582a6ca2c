package rollouts

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type RolloutEventRepo interface {
	Create(dbc dbctx.Context, rows []*types.RolloutEvent) ([]*types.RolloutEvent, error)
	ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutEvent, error)
}

type rolloutEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRolloutEventRepo(db *gorm.DB, baseLog *logger.Logger) RolloutEventRepo {
	return &rolloutEventRepo{db: db, log: baseLog.With("repo", "RolloutEventRepo")}
}

func (r *rolloutEventRepo) Create(dbc dbctx.Context, rows []*types.RolloutEvent) ([]*types.RolloutEvent, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.RolloutEvent{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *rolloutEventRepo) ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutEvent, error) {
	t := dbc.DB(r.db)
	var out []*types.RolloutEvent
	if rolloutID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("rollout_id = ?", rolloutID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
