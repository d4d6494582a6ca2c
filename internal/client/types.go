package client

import (
	"github.com/google/uuid"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

type PhaseRequest struct {
	Name                      string  `json:"name"`
	Percentage                float64 `json:"percentage"`
	MinHealthyDurationSeconds *int64  `json:"min_healthy_duration_seconds,omitempty"`
}

type CreateRolloutRequest struct {
	BundleID            uuid.UUID      `json:"bundle_id"`
	TargetVersion       string         `json:"target_version"`
	PreviousVersion     *string        `json:"previous_version,omitempty"`
	Name                string         `json:"name"`
	Description         *string        `json:"description,omitempty"`
	TargetDeviceGroupID uuid.UUID      `json:"target_device_group_id"`
	FailureThreshold    *float64       `json:"failure_threshold,omitempty"`
	Phases              []PhaseRequest `json:"phases"`
}

type CommandOptions struct {
	Reason              string `json:"reason,omitempty"`
	ExpectedPhaseNumber *int   `json:"expected_phase_number,omitempty"`
	// ExpectedVersion is sent as If-Match.
	ExpectedVersion *int64 `json:"-"`
}

type ListRolloutsOptions struct {
	BundleID uuid.UUID
	Status   string
	Page     int
	PageSize int
}

type RolloutPage struct {
	Rollouts []*types.Rollout `json:"rollouts"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type AssignmentResult struct {
	Assignment *types.RolloutDeviceAssignment `json:"assignment"`
	Phase      *types.RolloutPhase            `json:"phase"`
	Changed    bool                           `json:"changed"`
}

type CreateFlatRolloutRequest struct {
	BundleID   uuid.UUID   `json:"bundle_id"`
	Version    string      `json:"version"`
	TargetType string      `json:"target_type"`
	TargetIDs  []uuid.UUID `json:"target_ids"`
	AssignedBy string      `json:"assigned_by,omitempty"`
}

type FlatRolloutCreated struct {
	RolloutGroupID uuid.UUID                  `json:"rollout_group_id"`
	DeviceCount    int                        `json:"device_count"`
	Records        []*types.FlatRolloutRecord `json:"records"`
}

type FlatGroupDetail struct {
	Summary rollouts.FlatGroupSummary  `json:"summary"`
	Records []*types.FlatRolloutRecord `json:"records"`
}

type FlatCancelResult struct {
	Cancelled int                       `json:"cancelled"`
	Summary   rollouts.FlatGroupSummary `json:"summary"`
}

type DeviceReport struct {
	BundleID     uuid.UUID `json:"bundle_id"`
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type DeviceReportResult struct {
	FlatRecord  *types.FlatRolloutRecord         `json:"flat_record,omitempty"`
	Assignments []*types.RolloutDeviceAssignment `json:"assignments,omitempty"`
}
