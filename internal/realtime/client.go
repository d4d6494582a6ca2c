package realtime

import (
	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// Waiter is one parked long-poll request for a device.
type Waiter struct {
	ID       uuid.UUID
	DeviceID uuid.UUID
	Outbound chan Message
	done     chan struct{}
	Logger   *logger.Logger
}

// Done is closed when the waiter is removed from the hub.
func (w *Waiter) Done() <-chan struct{} { return w.done }
