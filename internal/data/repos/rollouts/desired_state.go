package rollouts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type DesiredStateRepo interface {
	// Upsert overwrites the desired state of each device in rows.
	Upsert(dbc dbctx.Context, rows []*types.DesiredState) error
	GetByDevice(dbc dbctx.Context, deviceID uuid.UUID) (*types.DesiredState, error)
	GetByDevices(dbc dbctx.Context, deviceIDs []uuid.UUID) ([]*types.DesiredState, error)
	ListByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.DesiredState, error)
}

type desiredStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDesiredStateRepo(db *gorm.DB, baseLog *logger.Logger) DesiredStateRepo {
	return &desiredStateRepo{db: db, log: baseLog.With("repo", "DesiredStateRepo")}
}

func (r *desiredStateRepo) Upsert(dbc dbctx.Context, rows []*types.DesiredState) error {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row != nil && row.UpdatedAt.IsZero() {
			row.UpdatedAt = now
		}
	}
	return t.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"bundle_id", "version", "assigned_by", "assigned_at", "updated_at"}),
		}).
		Create(&rows).Error
}

func (r *desiredStateRepo) GetByDevice(dbc dbctx.Context, deviceID uuid.UUID) (*types.DesiredState, error) {
	if deviceID == uuid.Nil {
		return nil, nil
	}
	rows, err := r.GetByDevices(dbc, []uuid.UUID{deviceID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *desiredStateRepo) GetByDevices(dbc dbctx.Context, deviceIDs []uuid.UUID) ([]*types.DesiredState, error) {
	t := dbc.DB(r.db)
	var out []*types.DesiredState
	if len(deviceIDs) == 0 {
		return out, nil
	}
	if err := t.Where("device_id IN ?", deviceIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *desiredStateRepo) ListByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.DesiredState, error) {
	t := dbc.DB(r.db)
	var out []*types.DesiredState
	if bundleID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("bundle_id = ?", bundleID).
		Order("device_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
