package rollouts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RolloutDeviceAssignment binds one device to one phase. (rollout_id, device_id)
// is unique so a device is never counted in two phases.
type RolloutDeviceAssignment struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	RolloutID    uuid.UUID        `gorm:"type:uuid;not null;index:idx_rollout_assignment_device,unique,priority:1" json:"rollout_id"`
	PhaseID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"phase_id"`
	DeviceID     uuid.UUID        `gorm:"type:uuid;not null;index:idx_rollout_assignment_device,unique,priority:2;index" json:"device_id"`
	Status       AssignmentStatus `gorm:"column:status;not null;index" json:"status"`
	AssignedAt   *time.Time       `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	ReconciledAt *time.Time       `gorm:"column:reconciled_at" json:"reconciled_at,omitempty"`
	ErrorMessage *string          `gorm:"column:error_message" json:"error_message,omitempty"`
	RetryCount   int              `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	CreatedAt    time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updated_at"`
}

func (RolloutDeviceAssignment) TableName() string { return "rollout_device_assignment" }

func (a *RolloutDeviceAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ApplyOutcome moves the assignment to status and keeps the owning phase's
// counters in step. It returns false when status equals the current status.
func (a *RolloutDeviceAssignment) ApplyOutcome(phase *RolloutPhase, to AssignmentStatus, errorMessage string, now time.Time) (bool, error) {
	changed, err := CheckAssignmentTransition(a.Status, to)
	if err != nil || !changed {
		return false, err
	}
	from := a.Status
	switch to {
	case AssignmentSucceeded:
		a.ReconciledAt = &now
		a.ErrorMessage = nil
		if phase != nil {
			phase.SuccessCount++
		}
	case AssignmentFailed:
		a.ReconciledAt = &now
		msg := errorMessage
		a.ErrorMessage = &msg
		if phase != nil {
			phase.FailureCount++
		}
	case AssignmentAssigned:
		a.AssignedAt = &now
		a.ReconciledAt = nil
		if from == AssignmentFailed {
			a.RetryCount++
			a.ErrorMessage = nil
			if phase != nil && phase.FailureCount > 0 {
				phase.FailureCount--
			}
		}
	}
	a.Status = to
	return true, nil
}
