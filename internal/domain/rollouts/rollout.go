package rollouts

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultFailureThreshold = 0.05

// Rollout is the phased rollout aggregate root.
type Rollout struct {
	ID                  uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID            uuid.UUID     `gorm:"type:uuid;not null;index" json:"tenant_id"`
	BundleID            uuid.UUID     `gorm:"type:uuid;not null;index" json:"bundle_id"`
	TargetVersion       string        `gorm:"column:target_version;not null" json:"target_version"`
	PreviousVersion     *string       `gorm:"column:previous_version" json:"previous_version,omitempty"`
	Name                string        `gorm:"column:name;not null" json:"name"`
	Description         *string       `gorm:"column:description" json:"description,omitempty"`
	TargetDeviceGroupID *uuid.UUID    `gorm:"type:uuid;column:target_device_group_id;index" json:"target_device_group_id,omitempty"`
	CreatedBy           *string       `gorm:"column:created_by" json:"created_by,omitempty"`
	FailureThreshold    float64       `gorm:"column:failure_threshold;not null" json:"failure_threshold"`
	CurrentPhaseNumber  int           `gorm:"column:current_phase_number;not null;default:0" json:"current_phase_number"`
	Status              RolloutStatus `gorm:"column:status;not null;index" json:"status"`
	Version             int64         `gorm:"column:version;not null;default:1" json:"version"`
	StartedAt           *time.Time    `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time     `gorm:"not null;index" json:"created_at"`
	UpdatedAt           time.Time     `gorm:"not null" json:"updated_at"`

	Phases []*RolloutPhase `gorm:"-" json:"phases,omitempty"`
}

func (Rollout) TableName() string { return "rollout" }

func (r *Rollout) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AssignedBy is the attribution written to desired state for this rollout's devices.
func (r *Rollout) AssignedBy() string {
	return "Rollout: " + r.Name
}

// SortPhases orders Phases by phase number.
func (r *Rollout) SortPhases() {
	sort.SliceStable(r.Phases, func(i, j int) bool { return r.Phases[i].PhaseNumber < r.Phases[j].PhaseNumber })
}

// Phase returns the phase with the given number.
func (r *Rollout) Phase(number int) (*RolloutPhase, error) {
	for _, p := range r.Phases {
		if p != nil && p.PhaseNumber == number {
			return p, nil
		}
	}
	return nil, fmt.Errorf("rollout %s has no phase %d", r.ID, number)
}

func (r *Rollout) CurrentPhase() (*RolloutPhase, error) {
	return r.Phase(r.CurrentPhaseNumber)
}

func (r *Rollout) IsLastPhase(number int) bool {
	return number >= len(r.Phases)-1
}

// AssignedBefore returns the device ids assigned in phases numbered below phaseNumber.
func (r *Rollout) AssignedBefore(phaseNumber int) map[uuid.UUID]struct{} {
	out := map[uuid.UUID]struct{}{}
	for _, p := range r.Phases {
		if p == nil || p.PhaseNumber >= phaseNumber {
			continue
		}
		for _, a := range p.Assignments {
			if a != nil {
				out[a.DeviceID] = struct{}{}
			}
		}
	}
	return out
}

// AssignmentsThrough returns assignments in phases numbered up to and including phaseNumber.
func (r *Rollout) AssignmentsThrough(phaseNumber int) []*RolloutDeviceAssignment {
	var out []*RolloutDeviceAssignment
	for _, p := range r.Phases {
		if p == nil || p.PhaseNumber > phaseNumber {
			continue
		}
		out = append(out, p.Assignments...)
	}
	return out
}

// FindAssignment locates the assignment of deviceID across all phases.
func (r *Rollout) FindAssignment(deviceID uuid.UUID) (*RolloutPhase, *RolloutDeviceAssignment) {
	for _, p := range r.Phases {
		if p == nil {
			continue
		}
		for _, a := range p.Assignments {
			if a != nil && a.DeviceID == deviceID {
				return p, a
			}
		}
	}
	return nil, nil
}
