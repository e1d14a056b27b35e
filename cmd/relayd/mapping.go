package main

import (
	"context"
	"fmt"

	"github.com/matst80/tcprelay/internal/config"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/redis/go-redis/v9"
)

// loadTable merges every configured mapping source: the listen/destination
// pair, the mapping file, then the Redis list. A listen endpoint defined twice
// across sources is an error.
func loadTable(ctx context.Context, cfg config.Config, rdb *redis.Client) (*endpoint.Table, error) {
	table := endpoint.NewTable()
	if cfg.Listen != "" && cfg.Destination != "" {
		t, err := endpoint.FromPair(cfg.Listen, cfg.Destination)
		if err != nil {
			return nil, fmt.Errorf("listen/destination: %w", err)
		}
		if err := table.Merge(t); err != nil {
			return nil, err
		}
	}
	if cfg.MappingFile != "" {
		t, err := endpoint.LoadFile(cfg.MappingFile)
		if err != nil {
			return nil, err
		}
		if err := table.Merge(t); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.MappingFile, err)
		}
	}
	if rdb != nil {
		t, err := endpoint.LoadRedis(ctx, rdb, cfg.Redis.Key)
		if err != nil {
			return nil, err
		}
		if err := table.Merge(t); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Key, err)
		}
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("no mappings defined")
	}
	return table, nil
}

func logMappings(table *endpoint.Table) {
	for _, e := range table.Entries() {
		obs.Info("mapping.loaded", obs.Fields{
			"listen":     e.Listen.Addr(),
			"listen_ssl": e.Listen.Encrypted,
			"dest":       e.Dest.Addr(),
			"dest_ssl":   e.Dest.Encrypted,
		})
	}
}
