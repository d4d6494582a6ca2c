package aggregates

import (
	"context"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/domain/catalog"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

// BundleLookup resolves bundle references. Both methods return (nil, nil)
// when the entity does not exist.
type BundleLookup interface {
	GetBundle(ctx context.Context, bundleID uuid.UUID) (*catalog.Bundle, error)
	GetBundleVersion(ctx context.Context, bundleID uuid.UUID, version string) (*catalog.BundleVersion, error)
}

// GroupResolver expands device groups at the moment of use. GetGroup returns
// (nil, nil) for an unknown group.
type GroupResolver interface {
	GetGroup(ctx context.Context, groupID uuid.UUID) (*catalog.DeviceGroup, error)
	GetDeviceIDsInGroup(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// DesiredStateSink persists per-device desired state. Writes join the
// transaction carried by dbc.
type DesiredStateSink interface {
	Upsert(dbc dbctx.Context, rows []*rollouts.DesiredState) error
	GetByDevice(dbc dbctx.Context, deviceID uuid.UUID) (*rollouts.DesiredState, error)
}
