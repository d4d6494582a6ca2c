package services

import (
	"context"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/ctxutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
	"github.com/edgeward/fleet-backend/internal/realtime/bus"
)

// DesiredStateNotifier announces committed desired-state writes.
type DesiredStateNotifier interface {
	DesiredStatesChanged(ctx context.Context, source string, rows []*types.DesiredState)
}

type desiredStateNotifier struct {
	log     *logger.Logger
	bus     bus.Bus
	metrics *observability.Metrics
}

func NewDesiredStateNotifier(baseLog *logger.Logger, b bus.Bus, metrics *observability.Metrics) DesiredStateNotifier {
	return &desiredStateNotifier{
		log:     baseLog.With("service", "DesiredStateNotifier"),
		bus:     b,
		metrics: metrics,
	}
}

// DesiredStatesChanged runs after commit; publish failures are logged, not returned.
func (n *desiredStateNotifier) DesiredStatesChanged(ctx context.Context, source string, rows []*types.DesiredState) {
	if n == nil || len(rows) == 0 {
		return
	}
	n.metrics.AddDesiredStateWrites(source, len(rows))
	if n.bus == nil {
		return
	}
	ctx = context.WithoutCancel(ctxutil.Default(ctx))
	failed := 0
	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := n.bus.Publish(ctx, realtime.DesiredStateChanged(row)); err != nil {
			failed++
		}
	}
	if failed > 0 {
		n.log.Warn("desired state publish failed", "source", source, "failed", failed, "total", len(rows))
	}
}
