package rollouts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RolloutEvent is the append-only audit trail of rollout transitions.
type RolloutEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RolloutID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"rollout_id"`
	Command     Command        `gorm:"column:command;not null" json:"command"`
	FromStatus  RolloutStatus  `gorm:"column:from_status;not null" json:"from_status"`
	ToStatus    RolloutStatus  `gorm:"column:to_status;not null" json:"to_status"`
	PhaseNumber int            `gorm:"column:phase_number;not null" json:"phase_number"`
	Actor       string         `gorm:"column:actor" json:"actor,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (RolloutEvent) TableName() string { return "rollout_event" }

func (e *RolloutEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
