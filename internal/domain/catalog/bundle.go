package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bundle is a named set of container specifications owned by a tenant.
type Bundle struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Bundle) TableName() string { return "bundle" }

func (b *Bundle) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BundleVersion is an immutable published version of a bundle.
type BundleVersion struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BundleID  uuid.UUID `gorm:"type:uuid;not null;index:idx_bundle_version,unique,priority:1" json:"bundle_id"`
	Version   string    `gorm:"column:version;not null;index:idx_bundle_version,unique,priority:2" json:"version"`
	Checksum  string    `gorm:"column:checksum" json:"checksum,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (BundleVersion) TableName() string { return "bundle_version" }

func (v *BundleVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
