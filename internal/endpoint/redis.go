package endpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LoadRedis reads mapping lines from the Redis list at key, letting several
// relay instances share one definition. The list is read once; elements use
// the same grammar as a mapping file.
func LoadRedis(ctx context.Context, rdb redis.Cmdable, key string) (*Table, error) {
	lines, err := rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return Parse(strings.NewReader(strings.Join(lines, "\n")))
}

// NewRedisClient connects and pings once before returning.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}
