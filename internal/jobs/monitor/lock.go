package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// LeaderLock elects the one replica allowed to tick.
type LeaderLock interface {
	// Acquire takes or renews the lock and reports whether this replica holds it.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type soloLock struct{}

// NewSoloLock is the lock for single-replica deployments; it always leads.
func NewSoloLock() LeaderLock { return soloLock{} }

func (soloLock) Acquire(context.Context) (bool, error) { return true, nil }
func (soloLock) Release(context.Context) error         { return nil }

const DefaultLockKey = "fleet.monitor.leader"

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisLock struct {
	rdb   *goredis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewRedisLock uses SET NX PX with a per-process token; ttl should exceed the tick interval.
func NewRedisLock(rdb *goredis.Client, key string, ttl time.Duration) LeaderLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisLock{rdb: rdb, key: key, token: uuid.NewString(), ttl: ttl}
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	renewed, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	if renewed == 1 {
		return true, nil
	}
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
