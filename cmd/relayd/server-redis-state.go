package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
	"github.com/redis/go-redis/v9"
)

const instanceKeyPrefix = "tcprelay:instance:"

// redisStateStore counts locally like serverState and periodically publishes
// the counters under an expiring per-instance key so an operator can see the
// whole fleet from any instance.
type redisStateStore struct {
	*serverState
	client     *redis.Client
	instanceID string

	heartbeatInterval time.Duration
	redisKeyTTL       time.Duration
}

func newRedisStateStore(client *redis.Client, interval time.Duration) *redisStateStore {
	return &redisStateStore{
		serverState:       newServerState(),
		client:            client,
		instanceID:        fmt.Sprintf("tcprelay-%d", time.Now().UnixNano()),
		heartbeatInterval: interval,
		redisKeyTTL:       3 * interval,
	}
}

var _ StateStore = (*redisStateStore)(nil)

func (r *redisStateStore) key() string { return instanceKeyPrefix + r.instanceID }

// heartbeat writes the current counters and refreshes the key TTL.
func (r *redisStateStore) heartbeat(ctx context.Context) error {
	data, err := json.Marshal(r.getStats())
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	if err := r.client.Set(ctx, r.key(), data, r.redisKeyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// startMaintenance publishes every heartbeatInterval until ctx ends, then
// removes this instance's key.
func (r *redisStateStore) startMaintenance(ctx context.Context) {
	if err := r.heartbeat(ctx); err != nil {
		obs.Error("redis.heartbeat", obs.Fields{"err": err.Error(), "instance": r.instanceID})
	}
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.client.Del(cctx, r.key()).Err(); err != nil {
				obs.Error("redis.instance.remove", obs.Fields{"err": err.Error(), "instance": r.instanceID})
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				obs.Error("redis.heartbeat", obs.Fields{"err": err.Error(), "instance": r.instanceID})
			}
		}
	}
}

func (r *redisStateStore) peers(ctx context.Context) ([]instanceCounters, error) {
	var out []instanceCounters
	iter := r.client.Scan(ctx, 0, instanceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.client.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				obs.Error("redis.get_instance", obs.Fields{"err": err.Error(), "key": key})
			}
			continue
		}
		ic := instanceCounters{Instance: strings.TrimPrefix(key, instanceKeyPrefix)}
		if err := json.Unmarshal([]byte(val), &ic.counters); err != nil {
			obs.Error("redis.unmarshal_instance", obs.Fields{"err": err.Error(), "key": key})
			continue
		}
		out = append(out, ic)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return out, nil
}
