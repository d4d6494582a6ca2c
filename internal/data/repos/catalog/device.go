package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type DeviceRepo interface {
	Create(dbc dbctx.Context, rows []*types.Device) ([]*types.Device, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Device, error)
	// Touch records that the device polled at seenAt.
	Touch(dbc dbctx.Context, id uuid.UUID, seenAt time.Time) error
}

type deviceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) DeviceRepo {
	return &deviceRepo{db: db, log: baseLog.With("repo", "DeviceRepo")}
}

func (r *deviceRepo) Create(dbc dbctx.Context, rows []*types.Device) ([]*types.Device, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.Device{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *deviceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Device, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.Device
	if err := t.Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *deviceRepo) Touch(dbc dbctx.Context, id uuid.UUID, seenAt time.Time) error {
	t := dbc.DB(r.db)
	if id == uuid.Nil {
		return nil
	}
	return t.
		Model(&types.Device{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_seen_at": seenAt, "updated_at": time.Now().UTC()}).Error
}

type DeviceGroupRepo interface {
	Create(dbc dbctx.Context, rows []*types.DeviceGroup) ([]*types.DeviceGroup, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeviceGroup, error)
	// AddMembers is idempotent per (group, device).
	AddMembers(dbc dbctx.Context, groupID uuid.UUID, deviceIDs []uuid.UUID) error
	RemoveMembers(dbc dbctx.Context, groupID uuid.UUID, deviceIDs []uuid.UUID) error
	ListDeviceIDs(dbc dbctx.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

type deviceGroupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviceGroupRepo(db *gorm.DB, baseLog *logger.Logger) DeviceGroupRepo {
	return &deviceGroupRepo{db: db, log: baseLog.With("repo", "DeviceGroupRepo")}
}

func (r *deviceGroupRepo) Create(dbc dbctx.Context, rows []*types.DeviceGroup) ([]*types.DeviceGroup, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.DeviceGroup{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *deviceGroupRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeviceGroup, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.DeviceGroup
	if err := t.Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *deviceGroupRepo) AddMembers(dbc dbctx.Context, groupID uuid.UUID, deviceIDs []uuid.UUID) error {
	t := dbc.DB(r.db)
	if groupID == uuid.Nil || len(deviceIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.DeviceGroupMember, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		if id == uuid.Nil {
			continue
		}
		rows = append(rows, &types.DeviceGroupMember{GroupID: groupID, DeviceID: id, CreatedAt: now})
	}
	if len(rows) == 0 {
		return nil
	}
	return t.
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 500).Error
}

func (r *deviceGroupRepo) RemoveMembers(dbc dbctx.Context, groupID uuid.UUID, deviceIDs []uuid.UUID) error {
	t := dbc.DB(r.db)
	if groupID == uuid.Nil || len(deviceIDs) == 0 {
		return nil
	}
	return t.
		Where("group_id = ? AND device_id IN ?", groupID, deviceIDs).
		Delete(&types.DeviceGroupMember{}).Error
}

func (r *deviceGroupRepo) ListDeviceIDs(dbc dbctx.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	t := dbc.DB(r.db)
	var out []uuid.UUID
	if groupID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Model(&types.DeviceGroupMember{}).
		Where("group_id = ?", groupID).
		Order("device_id ASC").
		Pluck("device_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
