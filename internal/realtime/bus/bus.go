package bus

import (
	"context"

	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/platform/redisx"
	"github.com/edgeward/fleet-backend/internal/realtime"
)

// Bus carries desired-state notifications between replicas.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}

// New returns a Redis bus when REDIS_ADDR is set and an in-process bus otherwise.
func New(log *logger.Logger, metrics *observability.Metrics) (Bus, error) {
	if !redisx.Configured(log) {
		log.Info("REDIS_ADDR not set; using in-process desired-state bus")
		return NewMemoryBus(log, metrics), nil
	}
	return NewRedisBus(log, metrics)
}
