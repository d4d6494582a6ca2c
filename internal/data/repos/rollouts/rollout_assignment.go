package rollouts

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type RolloutAssignmentRepo interface {
	Create(dbc dbctx.Context, rows []*types.RolloutDeviceAssignment) ([]*types.RolloutDeviceAssignment, error)
	ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutDeviceAssignment, error)
	GetByRolloutAndDevice(dbc dbctx.Context, rolloutID, deviceID uuid.UUID) (*types.RolloutDeviceAssignment, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type rolloutAssignmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRolloutAssignmentRepo(db *gorm.DB, baseLog *logger.Logger) RolloutAssignmentRepo {
	return &rolloutAssignmentRepo{db: db, log: baseLog.With("repo", "RolloutAssignmentRepo")}
}

func (r *rolloutAssignmentRepo) Create(dbc dbctx.Context, rows []*types.RolloutDeviceAssignment) ([]*types.RolloutDeviceAssignment, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.RolloutDeviceAssignment{}, nil
	}
	if err := t.CreateInBatches(&rows, 500).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *rolloutAssignmentRepo) ListByRolloutID(dbc dbctx.Context, rolloutID uuid.UUID) ([]*types.RolloutDeviceAssignment, error) {
	t := dbc.DB(r.db)
	var out []*types.RolloutDeviceAssignment
	if rolloutID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("rollout_id = ?", rolloutID).
		Order("device_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutAssignmentRepo) GetByRolloutAndDevice(dbc dbctx.Context, rolloutID, deviceID uuid.UUID) (*types.RolloutDeviceAssignment, error) {
	if rolloutID == uuid.Nil || deviceID == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.RolloutDeviceAssignment
	if err := t.
		Where("rollout_id = ? AND device_id = ?", rolloutID, deviceID).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *rolloutAssignmentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	t := dbc.DB(r.db)
	if id == uuid.Nil {
		return nil
	}
	return t.
		Model(&types.RolloutDeviceAssignment{}).
		Where("id = ?", id).
		Updates(rolloutTouch(updates)).Error
}
