package rollouts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FlatRolloutRecord tracks one device in an immediate, non-phased assignment.
// Records created by the same operation share RolloutGroupID.
type FlatRolloutRecord struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	RolloutGroupID uuid.UUID  `gorm:"type:uuid;not null;index" json:"rollout_group_id"`
	BundleID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"bundle_id"`
	Version        string     `gorm:"column:version;not null" json:"version"`
	DeviceID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"device_id"`
	Status         FlatStatus `gorm:"column:status;not null;index" json:"status"`
	AssignedBy     string     `gorm:"column:assigned_by" json:"assigned_by,omitempty"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ErrorMessage   string     `gorm:"column:error_message" json:"error_message,omitempty"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (FlatRolloutRecord) TableName() string { return "flat_rollout_record" }

func (r *FlatRolloutRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ApplyStatus moves the record to status, enforcing the flat state machine.
func (r *FlatRolloutRecord) ApplyStatus(to FlatStatus, errorMessage string, now time.Time) error {
	if err := CheckFlatTransition(r.Status, to, errorMessage); err != nil {
		return err
	}
	switch to {
	case FlatInProgress:
		r.StartedAt = &now
	case FlatSucceeded:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
		r.CompletedAt = &now
		r.ErrorMessage = ""
	case FlatFailed:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
		r.CompletedAt = &now
		r.ErrorMessage = errorMessage
	case FlatPending:
		r.RetryCount++
		r.StartedAt = nil
		r.CompletedAt = nil
		r.ErrorMessage = ""
	case FlatCancelled:
		r.CompletedAt = &now
	}
	r.Status = to
	return nil
}

// FlatGroupSummary is the query-time view of one flat rollout group.
type FlatGroupSummary struct {
	RolloutGroupID uuid.UUID  `json:"rollout_group_id"`
	BundleID       uuid.UUID  `json:"bundle_id"`
	Version        string     `json:"version"`
	Status         string     `json:"status"`
	Counts         FlatCounts `json:"counts"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SummarizeFlatGroup folds records of one group into a summary.
func SummarizeFlatGroup(groupID uuid.UUID, records []*FlatRolloutRecord) FlatGroupSummary {
	out := FlatGroupSummary{RolloutGroupID: groupID}
	for i, r := range records {
		if r == nil {
			continue
		}
		if i == 0 || r.CreatedAt.Before(out.CreatedAt) {
			out.CreatedAt = r.CreatedAt
		}
		out.BundleID = r.BundleID
		out.Version = r.Version
		out.Counts.Add(r.Status)
	}
	out.Status = AggregateFlatStatus(out.Counts)
	return out
}
