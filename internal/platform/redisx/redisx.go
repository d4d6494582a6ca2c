package redisx

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/edgeward/fleet-backend/internal/platform/envutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// Configured reports whether REDIS_ADDR is set.
func Configured(log *logger.Logger) bool {
	return envutil.String("REDIS_ADDR", "", log) != ""
}

// Open connects to REDIS_ADDR and pings it.
func Open(log *logger.Logger) (*goredis.Client, error) {
	addr := envutil.String("REDIS_ADDR", "", log)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", "", log),
		DB:          envutil.Int("REDIS_DB", 0, log),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
