// Package statecache is the Telemetry Ingestor's redis fast path: a
// write-through cache of each device's last state JSON, serving reads
// that don't need the durability guarantees of the relational store
// (e.g. a dashboard polling loop). Adapted directly from
// zigbee-adapter/internal/store/state_cache.go.
package statecache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct{ rdb *redis.Client }

func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func key(deviceID string) string { return "device:state:" + deviceID }

func (c *Cache) Set(ctx context.Context, deviceID string, stateJSON []byte) error {
	return c.rdb.Set(ctx, key(deviceID), stateJSON, 24*time.Hour).Err()
}

func (c *Cache) Get(ctx context.Context, deviceID string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (c *Cache) Delete(ctx context.Context, deviceID string) error {
	return c.rdb.Del(ctx, key(deviceID)).Err()
}

// RemoveAllExcept prunes cached entries for devices no longer
// reachable from the current inventory, e.g. after a bulk unbind.
func (c *Cache) RemoveAllExcept(ctx context.Context, keepIDs []string) ([]string, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		if id == "" {
			continue
		}
		keep[id] = struct{}{}
	}
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	var removed []string
	for iter.Next(ctx) {
		full := iter.Val()
		if !strings.HasPrefix(full, "device:state:") {
			continue
		}
		id := strings.TrimPrefix(full, "device:state:")
		if _, ok := keep[id]; ok {
			continue
		}
		if err := c.rdb.Del(ctx, full).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
