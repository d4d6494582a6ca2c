package bus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/envutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/platform/redisx"
	"github.com/edgeward/fleet-backend/internal/realtime"
)

const defaultChannel = "fleet.desired_state"

type redisBus struct {
	log     *logger.Logger
	metrics *observability.Metrics
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(log *logger.Logger, metrics *observability.Metrics) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	rdb, err := redisx.Open(log)
	if err != nil {
		return nil, err
	}
	return NewRedisBusWithClient(log, metrics, rdb, envutil.String("REDIS_CHANNEL", defaultChannel, log)), nil
}

func NewRedisBusWithClient(log *logger.Logger, metrics *observability.Metrics, rdb *goredis.Client, channel string) Bus {
	if channel == "" {
		channel = defaultChannel
	}
	return &redisBus{
		log:     log.With("service", "RedisBus"),
		metrics: metrics,
		rdb:     rdb,
		channel: channel,
	}
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.metrics.IncBusMessage("publish", "error")
		return err
	}
	b.metrics.IncBusMessage("publish", "ok")
	return nil
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg realtime.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.metrics.IncBusMessage("receive", "decode_error")
					b.log.Warn("bad redis bus payload", "error", err)
					continue
				}
				b.metrics.IncBusMessage("receive", "ok")
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
