package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

var FlatRolloutAggregateContract = Contract{
	Name: "Rollouts.FlatRolloutAggregate",
	Tables: []string{
		rollouts.FlatRolloutRecord{}.TableName(),
		rollouts.DesiredState{}.TableName(),
	},
	DesiredState: true,
	Notes:        "Flat group creation, cancellation and per-record status transitions.",
}

type TargetType string

const (
	TargetDevice TargetType = "device"
	TargetGroup  TargetType = "group"
)

// FlatRolloutAggregate owns flat rollout record invariants.
type FlatRolloutAggregate interface {
	Aggregate

	// Create resolves targets, upserts desired state, and inserts one record per device under a new group id.
	Create(ctx context.Context, in CreateFlatRolloutInput) (CreateFlatRolloutResult, error)

	// Cancel cancels every pending or in-progress record of the group. Repeated calls are no-ops.
	Cancel(ctx context.Context, in CancelFlatRolloutInput) (CancelFlatRolloutResult, error)

	UpdateStatus(ctx context.Context, in UpdateFlatStatusInput) (UpdateFlatStatusResult, error)
}

type CreateFlatRolloutInput struct {
	TenantID   uuid.UUID
	BundleID   uuid.UUID
	Version    string
	TargetType TargetType
	TargetIDs  []uuid.UUID
	AssignedBy string
	CreatedAt  time.Time
}

type CreateFlatRolloutResult struct {
	RolloutGroupID uuid.UUID
	DeviceCount    int
	Records        []*rollouts.FlatRolloutRecord
	DesiredStates  []*rollouts.DesiredState
}

type CancelFlatRolloutInput struct {
	TenantID       uuid.UUID
	RolloutGroupID uuid.UUID
	At             time.Time
}

type CancelFlatRolloutResult struct {
	RolloutGroupID uuid.UUID
	Cancelled      int
	Summary        rollouts.FlatGroupSummary
}

type UpdateFlatStatusInput struct {
	// TenantID is checked when set.
	TenantID     uuid.UUID
	RecordID     uuid.UUID
	Status       rollouts.FlatStatus
	ErrorMessage string
	At           time.Time
}

type UpdateFlatStatusResult struct {
	Record *rollouts.FlatRolloutRecord
}
