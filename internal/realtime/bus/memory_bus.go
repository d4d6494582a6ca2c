package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
)

// memoryBus delivers synchronously to forwarders in this process.
type memoryBus struct {
	log     *logger.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	subs   map[int]func(realtime.Message)
	nextID int
	closed bool
}

func NewMemoryBus(log *logger.Logger, metrics *observability.Metrics) Bus {
	return &memoryBus{
		log:     log.With("service", "MemoryBus"),
		metrics: metrics,
		subs:    make(map[int]func(realtime.Message)),
	}
}

func (b *memoryBus) Publish(ctx context.Context, msg realtime.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.metrics.IncBusMessage("publish", "error")
		return fmt.Errorf("memory bus closed")
	}
	b.metrics.IncBusMessage("publish", "ok")
	for _, fn := range b.subs {
		fn(msg)
		b.metrics.IncBusMessage("receive", "ok")
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory bus closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[int]func(realtime.Message){}
	return nil
}
