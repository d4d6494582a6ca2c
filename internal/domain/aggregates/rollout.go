package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

var PhasedRolloutAggregateContract = Contract{
	Name: "Rollouts.PhasedRolloutAggregate",
	Tables: []string{
		rollouts.Rollout{}.TableName(),
		rollouts.RolloutPhase{}.TableName(),
		rollouts.RolloutDeviceAssignment{}.TableName(),
		rollouts.RolloutEvent{}.TableName(),
		rollouts.DesiredState{}.TableName(),
	},
	DesiredState: true,
	Notes:        "Rollout, phase and assignment progression plus the desired-state writes each step implies.",
}

// PhasedRolloutAggregate owns phased rollout lifecycle invariants.
//
// Write method failures return *aggregates.Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeForbidden, CodeRetryable, CodeUnexpected.
type PhasedRolloutAggregate interface {
	Aggregate

	// Create validates references and percentages, then persists the rollout and its pending phases.
	Create(ctx context.Context, in CreateRolloutInput) (RolloutResult, error)

	// Start moves a pending rollout into phase 0 and assigns its devices.
	Start(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	Pause(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)
	Resume(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	// AdvancePhase completes the current phase and either completes the rollout or starts the next phase.
	AdvancePhase(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	// Rollback reverts assigned devices to the previous version when one was recorded.
	Rollback(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	// Cancel stops future progression without touching desired state.
	Cancel(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	Fail(ctx context.Context, in RolloutCommandInput) (RolloutResult, error)

	// ReportAssignment records a device outcome against its assignment and phase counters.
	ReportAssignment(ctx context.Context, in ReportAssignmentInput) (AssignmentResult, error)

	// RetryAssignment re-assigns a failed device and re-issues its desired state.
	RetryAssignment(ctx context.Context, in RetryAssignmentInput) (AssignmentResult, error)
}

type PhaseSpec struct {
	Name               string
	Percentage         float64
	MinHealthyDuration *time.Duration
}

type CreateRolloutInput struct {
	TenantID            uuid.UUID
	BundleID            uuid.UUID
	TargetVersion       string
	PreviousVersion     *string
	Name                string
	Description         *string
	TargetDeviceGroupID uuid.UUID
	CreatedBy           *string
	// FailureThreshold defaults to rollouts.DefaultFailureThreshold when nil.
	FailureThreshold *float64
	Phases           []PhaseSpec
	CreatedAt        time.Time
}

// RolloutCommandInput addresses one lifecycle command at a rollout.
type RolloutCommandInput struct {
	TenantID  uuid.UUID
	RolloutID uuid.UUID
	Actor     string
	Reason    string
	// ExpectedVersion rejects the command with CodeConflict when the stored version differs.
	ExpectedVersion *int64
	// ExpectedPhaseNumber and ExpectedStatus guard automated callers against stale reads.
	ExpectedPhaseNumber *int
	ExpectedStatus      *rollouts.RolloutStatus
	At                  time.Time
}

type RolloutResult struct {
	// Rollout is the full aggregate after the command, phases and assignments included.
	Rollout *rollouts.Rollout
	// DesiredStates are the rows written by the command, for post-commit notification.
	DesiredStates []*rollouts.DesiredState
}

type ReportAssignmentInput struct {
	// TenantID is checked when set; device-originated reports leave it nil.
	TenantID     uuid.UUID
	RolloutID    uuid.UUID
	DeviceID     uuid.UUID
	Status       rollouts.AssignmentStatus
	ErrorMessage string
	At           time.Time
}

type RetryAssignmentInput struct {
	TenantID  uuid.UUID
	RolloutID uuid.UUID
	DeviceID  uuid.UUID
	Actor     string
	At        time.Time
}

type AssignmentResult struct {
	Assignment *rollouts.RolloutDeviceAssignment
	Phase      *rollouts.RolloutPhase
	// Changed is false when the report repeated the current status.
	Changed       bool
	DesiredStates []*rollouts.DesiredState
}
