package catalog

import (
	"context"

	"github.com/google/uuid"

	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

// Lookup serves the aggregates' bundle and group collaborators from the
// local catalog tables.
type Lookup struct {
	Bundles BundleRepo
	Groups  DeviceGroupRepo
}

var (
	_ domainagg.BundleLookup  = Lookup{}
	_ domainagg.GroupResolver = Lookup{}
)

func NewLookup(bundles BundleRepo, groups DeviceGroupRepo) Lookup {
	return Lookup{Bundles: bundles, Groups: groups}
}

func (l Lookup) GetBundle(ctx context.Context, bundleID uuid.UUID) (*types.Bundle, error) {
	return l.Bundles.GetByID(dbctx.Of(ctx), bundleID)
}

func (l Lookup) GetBundleVersion(ctx context.Context, bundleID uuid.UUID, version string) (*types.BundleVersion, error) {
	return l.Bundles.GetVersion(dbctx.Of(ctx), bundleID, version)
}

func (l Lookup) GetGroup(ctx context.Context, groupID uuid.UUID) (*types.DeviceGroup, error) {
	return l.Groups.GetByID(dbctx.Of(ctx), groupID)
}

// GetDeviceIDsInGroup returns member ids ordered by device id.
func (l Lookup) GetDeviceIDsInGroup(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return l.Groups.ListDeviceIDs(dbctx.Of(ctx), groupID)
}
