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

type FlatRolloutRecordRepo interface {
	Create(dbc dbctx.Context, rows []*types.FlatRolloutRecord) ([]*types.FlatRolloutRecord, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FlatRolloutRecord, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.FlatRolloutRecord, error)

	ListByGroupID(dbc dbctx.Context, groupID uuid.UUID) ([]*types.FlatRolloutRecord, error)
	LockByGroupID(dbc dbctx.Context, groupID uuid.UUID) ([]*types.FlatRolloutRecord, error)
	ListByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.FlatRolloutRecord, error)

	// FindOpenForDevice returns the newest pending or in-progress record for device+bundle+version.
	FindOpenForDevice(dbc dbctx.Context, deviceID, bundleID uuid.UUID, version string) (*types.FlatRolloutRecord, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type flatRolloutRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFlatRolloutRecordRepo(db *gorm.DB, baseLog *logger.Logger) FlatRolloutRecordRepo {
	return &flatRolloutRecordRepo{db: db, log: baseLog.With("repo", "FlatRolloutRecordRepo")}
}

func (r *flatRolloutRecordRepo) Create(dbc dbctx.Context, rows []*types.FlatRolloutRecord) ([]*types.FlatRolloutRecord, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.FlatRolloutRecord{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *flatRolloutRecordRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FlatRolloutRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.FlatRolloutRecord
	if err := t.Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *flatRolloutRecordRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.FlatRolloutRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.FlatRolloutRecord
	err := t.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *flatRolloutRecordRepo) ListByGroupID(dbc dbctx.Context, groupID uuid.UUID) ([]*types.FlatRolloutRecord, error) {
	t := dbc.DB(r.db)
	var out []*types.FlatRolloutRecord
	if groupID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("rollout_group_id = ?", groupID).
		Order("device_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *flatRolloutRecordRepo) LockByGroupID(dbc dbctx.Context, groupID uuid.UUID) ([]*types.FlatRolloutRecord, error) {
	t := dbc.DB(r.db)
	var out []*types.FlatRolloutRecord
	if groupID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("rollout_group_id = ?", groupID).
		Order("device_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *flatRolloutRecordRepo) ListByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.FlatRolloutRecord, error) {
	t := dbc.DB(r.db)
	var out []*types.FlatRolloutRecord
	if bundleID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("bundle_id = ?", bundleID).
		Order("created_at DESC").
		Order("device_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *flatRolloutRecordRepo) FindOpenForDevice(dbc dbctx.Context, deviceID, bundleID uuid.UUID, version string) (*types.FlatRolloutRecord, error) {
	if deviceID == uuid.Nil || bundleID == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.FlatRolloutRecord
	err := t.
		Where("device_id = ? AND bundle_id = ? AND version = ? AND status IN ?", deviceID, bundleID, version,
			[]string{string(types.FlatPendingStatus), string(types.FlatInProgressStatus)}).
		Order("created_at DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *flatRolloutRecordRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	t := dbc.DB(r.db)
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return t.
		Model(&types.FlatRolloutRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
