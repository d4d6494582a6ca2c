package repos

import (
	"gorm.io/gorm"

	"github.com/edgeward/fleet-backend/internal/data/repos/catalog"
	"github.com/edgeward/fleet-backend/internal/data/repos/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type DesiredStateRepo = rollouts.DesiredStateRepo
type FlatRolloutRecordRepo = rollouts.FlatRolloutRecordRepo
type RolloutRepo = rollouts.RolloutRepo
type RolloutPhaseRepo = rollouts.RolloutPhaseRepo
type RolloutAssignmentRepo = rollouts.RolloutAssignmentRepo
type RolloutEventRepo = rollouts.RolloutEventRepo
type RolloutListFilter = rollouts.RolloutListFilter

type BundleRepo = catalog.BundleRepo
type DeviceRepo = catalog.DeviceRepo
type DeviceGroupRepo = catalog.DeviceGroupRepo

func NewDesiredStateRepo(db *gorm.DB, baseLog *logger.Logger) DesiredStateRepo {
	return rollouts.NewDesiredStateRepo(db, baseLog)
}
func NewFlatRolloutRecordRepo(db *gorm.DB, baseLog *logger.Logger) FlatRolloutRecordRepo {
	return rollouts.NewFlatRolloutRecordRepo(db, baseLog)
}
func NewRolloutRepo(db *gorm.DB, baseLog *logger.Logger) RolloutRepo {
	return rollouts.NewRolloutRepo(db, baseLog)
}
func NewRolloutPhaseRepo(db *gorm.DB, baseLog *logger.Logger) RolloutPhaseRepo {
	return rollouts.NewRolloutPhaseRepo(db, baseLog)
}
func NewRolloutAssignmentRepo(db *gorm.DB, baseLog *logger.Logger) RolloutAssignmentRepo {
	return rollouts.NewRolloutAssignmentRepo(db, baseLog)
}
func NewRolloutEventRepo(db *gorm.DB, baseLog *logger.Logger) RolloutEventRepo {
	return rollouts.NewRolloutEventRepo(db, baseLog)
}

func NewBundleRepo(db *gorm.DB, baseLog *logger.Logger) BundleRepo {
	return catalog.NewBundleRepo(db, baseLog)
}
func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) DeviceRepo {
	return catalog.NewDeviceRepo(db, baseLog)
}
func NewDeviceGroupRepo(db *gorm.DB, baseLog *logger.Logger) DeviceGroupRepo {
	return catalog.NewDeviceGroupRepo(db, baseLog)
}

// Set bundles every table repo the service needs.
type Set struct {
	DesiredState      DesiredStateRepo
	FlatRolloutRecord FlatRolloutRecordRepo
	Rollout           RolloutRepo
	RolloutPhase      RolloutPhaseRepo
	RolloutAssignment RolloutAssignmentRepo
	RolloutEvent      RolloutEventRepo
	Bundle            BundleRepo
	Device            DeviceRepo
	DeviceGroup       DeviceGroupRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		DesiredState:      NewDesiredStateRepo(db, baseLog),
		FlatRolloutRecord: NewFlatRolloutRecordRepo(db, baseLog),
		Rollout:           NewRolloutRepo(db, baseLog),
		RolloutPhase:      NewRolloutPhaseRepo(db, baseLog),
		RolloutAssignment: NewRolloutAssignmentRepo(db, baseLog),
		RolloutEvent:      NewRolloutEventRepo(db, baseLog),
		Bundle:            NewBundleRepo(db, baseLog),
		Device:            NewDeviceRepo(db, baseLog),
		DeviceGroup:       NewDeviceGroupRepo(db, baseLog),
	}
}
