package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

type Event string

const (
	EventDesiredStateChanged Event = "desired_state_changed"
)

// Message is one desired-state notification. It travels over the bus as JSON.
type Message struct {
	Event      Event     `json:"event"`
	DeviceID   uuid.UUID `json:"device_id"`
	BundleID   uuid.UUID `json:"bundle_id"`
	Version    string    `json:"version"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

func DesiredStateChanged(ds *rollouts.DesiredState) Message {
	if ds == nil {
		return Message{Event: EventDesiredStateChanged}
	}
	return Message{
		Event:      EventDesiredStateChanged,
		DeviceID:   ds.DeviceID,
		BundleID:   ds.BundleID,
		Version:    ds.Version,
		AssignedBy: ds.AssignedBy,
		AssignedAt: ds.AssignedAt,
	}
}
