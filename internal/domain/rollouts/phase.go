package rollouts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RolloutPhase struct {
	ID                        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	RolloutID                 uuid.UUID   `gorm:"type:uuid;not null;index:idx_rollout_phase_number,unique,priority:1" json:"rollout_id"`
	PhaseNumber               int         `gorm:"column:phase_number;not null;index:idx_rollout_phase_number,unique,priority:2" json:"phase_number"`
	Name                      string      `gorm:"column:name;not null" json:"name"`
	TargetDeviceCount         int         `gorm:"column:target_device_count;not null" json:"target_device_count"`
	TargetPercentage          float64     `gorm:"column:target_percentage;not null" json:"target_percentage"`
	MinHealthyDurationSeconds *int64      `gorm:"column:min_healthy_duration_seconds" json:"min_healthy_duration_seconds,omitempty"`
	Status                    PhaseStatus `gorm:"column:status;not null;index" json:"status"`
	StartedAt                 *time.Time  `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt               *time.Time  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	SuccessCount              int         `gorm:"column:success_count;not null;default:0" json:"success_count"`
	FailureCount              int         `gorm:"column:failure_count;not null;default:0" json:"failure_count"`
	CreatedAt                 time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt                 time.Time   `gorm:"not null" json:"updated_at"`

	Assignments []*RolloutDeviceAssignment `gorm:"-" json:"assignments,omitempty"`
}

func (RolloutPhase) TableName() string { return "rollout_phase" }

func (p *RolloutPhase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// MinHealthyDuration returns nil when the phase must be advanced manually.
func (p *RolloutPhase) MinHealthyDuration() *time.Duration {
	if p == nil || p.MinHealthyDurationSeconds == nil {
		return nil
	}
	d := time.Duration(*p.MinHealthyDurationSeconds) * time.Second
	return &d
}

// FailureRate is failures over reported outcomes, 0 when nothing has reported.
func (p *RolloutPhase) FailureRate() float64 {
	if p == nil {
		return 0
	}
	reported := p.SuccessCount + p.FailureCount
	if reported <= 0 {
		return 0
	}
	return float64(p.FailureCount) / float64(reported)
}

func (p *RolloutPhase) Begin(now time.Time) error {
	if err := CheckPhaseTransition(p.Status, PhaseInProgress); err != nil {
		return err
	}
	p.Status = PhaseInProgress
	p.StartedAt = &now
	return nil
}

func (p *RolloutPhase) Finish(to PhaseStatus, now time.Time) error {
	if err := CheckPhaseTransition(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	p.CompletedAt = &now
	return nil
}
