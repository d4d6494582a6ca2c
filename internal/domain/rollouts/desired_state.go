package rollouts

import (
	"time"

	"github.com/google/uuid"
)

// DesiredState is the single current bundle/version a device is told to run.
// One row per device, overwritten in place.
type DesiredState struct {
	DeviceID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"device_id"`
	BundleID   uuid.UUID `gorm:"type:uuid;not null;index" json:"bundle_id"`
	Version    string    `gorm:"column:version;not null" json:"version"`
	AssignedBy string    `gorm:"column:assigned_by;not null" json:"assigned_by"`
	AssignedAt time.Time `gorm:"column:assigned_at;not null" json:"assigned_at"`
	UpdatedAt  time.Time `gorm:"not null;index" json:"updated_at"`
}

func (DesiredState) TableName() string { return "desired_state" }

// ETag identifies the assignment a device last observed.
func (d DesiredState) ETag() string {
	return `"` + d.BundleID.String() + ":" + d.Version + ":" + d.AssignedAt.UTC().Format(time.RFC3339Nano) + `"`
}
