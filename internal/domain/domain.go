package domain

import (
	"github.com/edgeward/fleet-backend/internal/domain/catalog"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

type (
	DesiredState            = rollouts.DesiredState
	FlatRolloutRecord       = rollouts.FlatRolloutRecord
	Rollout                 = rollouts.Rollout
	RolloutPhase            = rollouts.RolloutPhase
	RolloutDeviceAssignment = rollouts.RolloutDeviceAssignment
	RolloutEvent            = rollouts.RolloutEvent

	Bundle            = catalog.Bundle
	BundleVersion     = catalog.BundleVersion
	Device            = catalog.Device
	DeviceGroup       = catalog.DeviceGroup
	DeviceGroupMember = catalog.DeviceGroupMember
)

const (
	FlatPendingStatus    = rollouts.FlatPending
	FlatInProgressStatus = rollouts.FlatInProgress
)

// Models lists every persisted row type, in migration order.
func Models() []any {
	return []any{
		&Bundle{},
		&BundleVersion{},
		&Device{},
		&DeviceGroup{},
		&DeviceGroupMember{},
		&DesiredState{},
		&FlatRolloutRecord{},
		&Rollout{},
		&RolloutPhase{},
		&RolloutDeviceAssignment{},
		&RolloutEvent{},
	}
}
