package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const snapshotKey = "conclave:market:context"

// SnapshotCache shares the latest market context via Redis so sidecar
// processes (report generators, dashboards) read the same regime the engine
// weighted with.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache wraps a Redis client as a snapshot cache.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

// Put stores the snapshot under a fixed key with a TTL.
func (c *SnapshotCache) Put(ctx context.Context, mc Context) error {
	payload, err := json.Marshal(mc)
	if err != nil {
		return fmt.Errorf("failed to marshal market context: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache market context: %w", err)
	}
	return nil
}

// Get reads the latest cached snapshot. Returns ok=false on a cache miss.
func (c *SnapshotCache) Get(ctx context.Context) (Context, bool, error) {
	payload, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("failed to read cached market context: %w", err)
	}
	var mc Context
	if err := json.Unmarshal(payload, &mc); err != nil {
		return Context{}, false, fmt.Errorf("failed to decode cached market context: %w", err)
	}
	return mc, true, nil
}
