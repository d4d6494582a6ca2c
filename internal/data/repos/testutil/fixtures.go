package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
)

func SeedBundle(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, versions ...string) *types.Bundle {
	tb.Helper()
	b := &types.Bundle{ID: uuid.New(), TenantID: tenantID, Name: "bundle-" + uuid.NewString()[:8]}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed bundle: %v", err)
	}
	for _, v := range versions {
		bv := &types.BundleVersion{ID: uuid.New(), BundleID: b.ID, Version: v}
		if err := tx.WithContext(ctx).Create(bv).Error; err != nil {
			tb.Fatalf("seed bundle version %s: %v", v, err)
		}
	}
	return b
}

// SeedGroup creates a device group with n fresh member devices and returns
// the group and the member ids.
func SeedGroup(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, n int) (*types.DeviceGroup, []uuid.UUID) {
	tb.Helper()
	g := &types.DeviceGroup{ID: uuid.New(), TenantID: tenantID, Name: "group-" + uuid.NewString()[:8]}
	if err := tx.WithContext(ctx).Create(g).Error; err != nil {
		tb.Fatalf("seed group: %v", err)
	}
	ids := SeedDevices(tb, ctx, tx, tenantID, n)
	AddGroupMembers(tb, ctx, tx, g.ID, ids)
	return g, ids
}

func SeedDevices(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, n int) []uuid.UUID {
	tb.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		d := &types.Device{ID: uuid.New(), TenantID: tenantID}
		if err := tx.WithContext(ctx).Create(d).Error; err != nil {
			tb.Fatalf("seed device: %v", err)
		}
		ids = append(ids, d.ID)
	}
	return ids
}

func AddGroupMembers(tb testing.TB, ctx context.Context, tx *gorm.DB, groupID uuid.UUID, deviceIDs []uuid.UUID) {
	tb.Helper()
	for _, id := range deviceIDs {
		m := &types.DeviceGroupMember{GroupID: groupID, DeviceID: id}
		if err := tx.WithContext(ctx).Create(m).Error; err != nil {
			tb.Fatalf("seed group member: %v", err)
		}
	}
}
