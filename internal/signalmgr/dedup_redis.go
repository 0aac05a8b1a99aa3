package signalmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
)

// RedisConfig governs the optional cross-process dedup guard. Disabled by
// default: a single Manager instance already limits repeated same-side
// candidates with its per-side throttle and resolves opposite-side
// conflicts in its in-memory conflict window (resolveConflictsLocked),
// but does not dedup same-side candidates there; RedisConfig only
// matters when more than one Manager instance shares a symbol, e.g. a
// blue/green deploy or a horizontally scaled consumer group.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	DedupTTLMs int64  `yaml:"dedup_ttl_ms"`
}

// RedisDedup suppresses duplicate candidates across multiple Manager
// instances, the same cross-instance cache role the teacher's
// cache_config.go plays for repeated scan results.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDedup builds a cross-process dedup guard backed by addr's Redis
// instance. prefix namespaces keys per symbol so multiple pairs can share
// one Redis instance without collision.
func NewRedisDedup(addr, prefix string, ttl time.Duration) *RedisDedup {
	return &RedisDedup{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		prefix: prefix,
	}
}

// Seen reports whether an equivalent candidate (same detector, side, and
// price tick) was already accepted by any manager instance within ttl, and
// records this one if not. A Redis error is treated as "not seen" so a down
// cache degrades to single-instance behavior instead of dropping signals.
func (d *RedisDedup) Seen(ctx context.Context, c base.Candidate) bool {
	key := fmt.Sprintf("%s:%s:%d:%d", d.prefix, c.DetectorID, c.Side, c.PriceTicks)
	ok, err := d.client.SetNX(ctx, key, c.TimestampMs, d.ttl).Result()
	if err != nil {
		return false
	}
	return !ok
}

// Close releases the underlying Redis connection pool.
func (d *RedisDedup) Close() error { return d.client.Close() }
