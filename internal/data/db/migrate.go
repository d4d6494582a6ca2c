package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.Models()...)
}

// EnsureRolloutIndexes creates indexes gorm tags cannot express. Both postgres
// and sqlite support partial indexes with this syntax.
func EnsureRolloutIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rollout_bundle_active
		 ON rollout(bundle_id)
		 WHERE status IN ('pending','in_progress','paused');`,
		`CREATE INDEX IF NOT EXISTS idx_flat_rollout_record_device_bundle
		 ON flat_rollout_record(device_id, bundle_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_rollout_event_rollout_created
		 ON rollout_event(rollout_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_rollout_tenant_status
		 ON rollout(tenant_id, status);`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure rollout indexes: %w", err)
		}
	}
	return nil
}
