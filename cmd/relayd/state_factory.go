package main

import (
	"time"

	"github.com/matst80/tcprelay/internal/obs"
	"github.com/redis/go-redis/v9"
)

// newStateStore creates either an in-memory or Redis-backed state store. The
// Redis store is used only when a client exists and publishing is enabled.
func newStateStore(client *redis.Client, interval time.Duration) StateStore {
	if client == nil || interval <= 0 {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return newServerState()
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "heartbeat": interval.String()})
	return newRedisStateStore(client, interval)
}
