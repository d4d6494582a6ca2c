package rollouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/data/repos/testutil"
	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

func TestDesiredStateRepoUpsertOverwrites(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDesiredStateRepo(db, testutil.Logger(t))
	dbc := dbctx.Of(ctx)

	deviceID := uuid.New()
	bundleID := uuid.New()
	first := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	if err := repo.Upsert(dbc, []*types.DesiredState{{
		DeviceID: deviceID, BundleID: bundleID, Version: "1.0.0", AssignedBy: "op", AssignedAt: first,
	}}); err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	second := first.Add(30 * time.Minute)
	if err := repo.Upsert(dbc, []*types.DesiredState{{
		DeviceID: deviceID, BundleID: bundleID, Version: "2.0.0", AssignedBy: "Rollout: canary", AssignedAt: second,
	}}); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	got, err := repo.GetByDevice(dbc, deviceID)
	if err != nil || got == nil {
		t.Fatalf("GetByDevice: row=%v err=%v", got, err)
	}
	if got.Version != "2.0.0" || got.AssignedBy != "Rollout: canary" {
		t.Fatalf("GetByDevice: got version=%q assignedBy=%q", got.Version, got.AssignedBy)
	}
	if !got.AssignedAt.Equal(second) {
		t.Fatalf("GetByDevice: assigned_at want=%v got=%v", second, got.AssignedAt)
	}

	var count int64
	if err := db.Model(&types.DesiredState{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("desired_state rows per device: want=1 got=%d", count)
	}

	if missing, err := repo.GetByDevice(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByDevice missing: row=%v err=%v", missing, err)
	}
	rows, err := repo.ListByBundle(dbc, bundleID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListByBundle: len=%d err=%v", len(rows), err)
	}
}
