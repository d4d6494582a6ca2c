package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// Hub fans desired-state notifications out to waiters parked on a device.
type Hub struct {
	log     *logger.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	waiters map[uuid.UUID]map[uuid.UUID]*Waiter
}

func NewHub(log *logger.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		log:     log.With("component", "DesiredStateHub"),
		metrics: metrics,
		waiters: make(map[uuid.UUID]map[uuid.UUID]*Waiter),
	}
}

// Register parks a new waiter on deviceID. Callers must Remove it.
func (h *Hub) Register(deviceID uuid.UUID) *Waiter {
	w := &Waiter{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Outbound: make(chan Message, 1),
		done:     make(chan struct{}),
		Logger:   h.log.With("device_id", deviceID.String()),
	}
	h.mu.Lock()
	set, ok := h.waiters[deviceID]
	if !ok {
		set = make(map[uuid.UUID]*Waiter)
		h.waiters[deviceID] = set
	}
	set[w.ID] = w
	h.mu.Unlock()
	h.metrics.LongPollWaitersInc()
	return w
}

// Remove closes the waiter. Repeated calls are no-ops.
func (h *Hub) Remove(w *Waiter) {
	if w == nil {
		return
	}
	h.mu.Lock()
	set, ok := h.waiters[w.DeviceID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[w.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, w.ID)
	if len(set) == 0 {
		delete(h.waiters, w.DeviceID)
	}
	close(w.done)
	close(w.Outbound)
	h.mu.Unlock()
	h.metrics.LongPollWaitersDec()
}

// Broadcast delivers msg to every waiter of msg.DeviceID without blocking.
// A waiter that already holds an undelivered message keeps the older one.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, w := range h.waiters[msg.DeviceID] {
		select {
		case w.Outbound <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Waiting(deviceID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[deviceID])
}
