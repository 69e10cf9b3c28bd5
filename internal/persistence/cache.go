package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PoolLedger/internal/core"
	"PoolLedger/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var _ SnapshotStore = (*CachedSnapshotStore)(nil)

const (
	snapshotCacheKey = "poolledger:snapshot:latest"
	snapshotCacheTTL = 24 * time.Hour
)

// CachedSnapshotStore puts Redis in front of a SnapshotStore. Reads try the
// cache first and backfill it on a miss; writes go to the store and then
// replace the cached copy. Cache failures never fail the call.
type CachedSnapshotStore struct {
	store   SnapshotStore
	redis   *redis.Client
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCachedSnapshotStore(store SnapshotStore, rds *redis.Client, metrics *observability.Metrics, logger zerolog.Logger) *CachedSnapshotStore {
	return &CachedSnapshotStore{
		store:   store,
		redis:   rds,
		metrics: metrics,
		logger:  logger.With().Str("component", "snapshot_cache").Logger(),
	}
}

// ConnectRedis opens a client and checks it with PING.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rds := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	if err := rds.Ping(ctx).Err(); err != nil {
		_ = rds.Close()
		return nil, err
	}
	return rds, nil
}

func (c *CachedSnapshotStore) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	if err := c.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	c.put(ctx, snap)
	return nil
}

// LoadLatestSnapshot trusts a cache hit; SaveSnapshot keeps the cached copy
// current.
func (c *CachedSnapshotStore) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	data, err := c.redis.Get(ctx, snapshotCacheKey).Bytes()
	switch {
	case err == nil:
		if snap, derr := decodeSnapshot(data); derr == nil {
			c.count("hit")
			return snap, nil
		}
		c.count("corrupt")
	case errors.Is(err, redis.Nil):
		c.count("miss")
	default:
		c.count("error")
		c.logger.Warn().Err(err).Msg("snapshot cache read failed")
	}

	snap, err := c.store.LoadLatestSnapshot(ctx)
	if err != nil || snap == nil {
		return snap, err
	}
	c.put(ctx, snap)
	return snap, nil
}

func (c *CachedSnapshotStore) put(ctx context.Context, snap *core.SnapshotState) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn().Err(err).Msg("snapshot cache encode failed")
		return
	}
	if err := c.redis.Set(ctx, snapshotCacheKey, data, snapshotCacheTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot cache write failed")
	}
}

func (c *CachedSnapshotStore) count(result string) {
	if c.metrics != nil {
		c.metrics.SnapshotCacheHits.WithLabelValues(result).Inc()
	}
}
