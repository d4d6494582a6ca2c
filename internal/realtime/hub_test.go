package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubDeliversOnlyToWaitersOfTheDevice(t *testing.T) {
	hub := NewHub(mustTestLogger(t), nil)
	deviceA, deviceB := uuid.New(), uuid.New()

	waitA := hub.Register(deviceA)
	waitB := hub.Register(deviceB)
	defer hub.Remove(waitA)
	defer hub.Remove(waitB)

	n := hub.Broadcast(Message{Event: EventDesiredStateChanged, DeviceID: deviceA, Version: "2.0.0"})
	if n != 1 {
		t.Fatalf("delivered: want=1 got=%d", n)
	}
	got := recvMessage(t, waitA.Outbound, time.Second)
	if got.Version != "2.0.0" {
		t.Fatalf("version: want=2.0.0 got=%s", got.Version)
	}
	select {
	case msg := <-waitB.Outbound:
		t.Fatalf("device B should not be notified: %+v", msg)
	default:
	}
}

func TestHubBroadcastNeverBlocksOnFullWaiter(t *testing.T) {
	hub := NewHub(mustTestLogger(t), nil)
	device := uuid.New()
	w := hub.Register(device)
	defer hub.Remove(w)

	hub.Broadcast(Message{DeviceID: device, Version: "1"})
	done := make(chan struct{})
	go func() {
		hub.Broadcast(Message{DeviceID: device, Version: "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Broadcast blocked on a full waiter")
	}
	if got := recvMessage(t, w.Outbound, time.Second); got.Version != "1" {
		t.Fatalf("kept message: want=1 got=%s", got.Version)
	}
}

func TestHubRemoveClosesWaiter(t *testing.T) {
	hub := NewHub(mustTestLogger(t), nil)
	device := uuid.New()
	w := hub.Register(device)
	if hub.Waiting(device) != 1 {
		t.Fatalf("waiting: want=1 got=%d", hub.Waiting(device))
	}

	hub.Remove(w)
	hub.Remove(w)

	select {
	case _, ok := <-w.Outbound:
		if ok {
			t.Fatalf("outbound should be closed after remove")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for outbound close")
	}
	select {
	case <-w.Done():
	default:
		t.Fatalf("done should be closed after remove")
	}
	if hub.Waiting(device) != 0 {
		t.Fatalf("waiting after remove: want=0 got=%d", hub.Waiting(device))
	}
	if n := hub.Broadcast(Message{DeviceID: device}); n != 0 {
		t.Fatalf("broadcast after remove: want=0 got=%d", n)
	}
}
