package pricesim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/metrics"
)

// TickCache fronts the in-memory Ring with Redis so the latest tick for a
// sector survives a process restart. A nil *TickCache (or one built with a
// nil client) is always a clean miss: every method is safe to call on a nil
// receiver, so Redis stays strictly optional.
// Reads and writes go through metrics.RedisMetrics so every tick cache hit,
// miss, and set is reflected in the Redis operation/hit-rate gauges.
type TickCache struct {
	client *metrics.RedisMetrics
	ttl    time.Duration
}

type cachedTick struct {
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTickCache returns a TickCache, or nil if client is nil (Redis is
// optional; callers fall back to the in-memory Ring alone).
func NewTickCache(client *redis.Client, ttl time.Duration) *TickCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 5 * time.Second
	}
	return &TickCache{client: metrics.NewRedisMetrics(client), ttl: ttl}
}

func (c *TickCache) key(sectorID string) string {
	return fmt.Sprintf("tradesim:tick:%s", sectorID)
}

// Get returns the last cached tick for sectorID, or false on miss/error.
func (c *TickCache) Get(ctx context.Context, sectorID string) (Tick, bool) {
	if c == nil || c.client == nil {
		return Tick{}, false
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(cacheCtx, c.key(sectorID))
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("sectorId", sectorID).Msg("tick cache get error, treating as miss")
		}
		return Tick{}, false
	}
	var ct cachedTick
	if err := json.Unmarshal([]byte(raw), &ct); err != nil {
		log.Warn().Err(err).Str("sectorId", sectorID).Msg("failed to unmarshal cached tick")
		return Tick{}, false
	}
	return Tick{Price: ct.Price, ChangePercent: ct.ChangePercent}, true
}

// Set stores the latest tick for sectorID with the cache's TTL.
func (c *TickCache) Set(ctx context.Context, sectorID string, t Tick) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(cachedTick{Price: t.Price, ChangePercent: t.ChangePercent, Timestamp: time.Now()})
	if err != nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := c.client.Set(cacheCtx, c.key(sectorID), data, c.ttl); err != nil {
		log.Warn().Err(err).Str("sectorId", sectorID).Msg("failed to cache tick")
	}
}
