package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/store"
)

// Memory-tier entries expire quickly regardless of the durable TTL; the
// durable store remains the source of truth across processes.
const (
	memoryTierTTL  = 5 * time.Minute
	durableTimeout = 2 * time.Second
)

// TieredCache layers a bounded in-process cache over the durable store.
// Durable-layer failures degrade to the memory tier silently: a broken
// database slows the pipeline down but never fails a dispense.
type TieredCache struct {
	memory  *MemoryCache
	durable store.Store
	logger  *zap.Logger
}

// NewTiered wraps the durable store with a memory tier. durable may be nil,
// in which case only the memory tier is used.
func NewTiered(durable store.Store, maxItems int) *TieredCache {
	return &TieredCache{
		memory:  NewMemoryCache(maxItems),
		durable: durable,
		logger:  zap.L().Named("cache"),
	}
}

// Get checks the memory tier first, then the durable store. A durable hit
// is promoted into the memory tier.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.memory.Get(ctx, key); ok {
		return value, true
	}
	if c.durable == nil {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()

	value, err := c.durable.GetEntry(opCtx, key)
	if err != nil {
		c.logger.Warn("durable cache read failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, false
	}
	if value == nil {
		return nil, false
	}
	c.memory.Set(ctx, key, value, memoryTierTTL)
	return value, true
}

// Set writes through to both tiers. The durable write failing is logged
// and otherwise ignored.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	memTTL := ttl
	if memTTL > memoryTierTTL {
		memTTL = memoryTierTTL
	}
	c.memory.Set(ctx, key, value, memTTL)

	if c.durable == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()

	if err := c.durable.SetEntry(opCtx, key, value, ttl); err != nil {
		c.logger.Warn("durable cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Exists checks the memory tier first, then the durable store. A durable
// failure degrades to false rather than surfacing.
func (c *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, _ := c.memory.Exists(ctx, key); ok {
		return true, nil
	}
	if c.durable == nil {
		return false, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()

	ok, err := c.durable.EntryExists(opCtx, key)
	if err != nil {
		c.logger.Warn("durable cache exists check failed",
			zap.String("key", key),
			zap.Error(err))
		return false, nil
	}
	return ok, nil
}

// Delete removes the key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.memory.Delete(ctx, key)

	if c.durable == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()

	if err := c.durable.DeleteEntry(opCtx, key); err != nil {
		c.logger.Warn("durable cache delete failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Purge removes expired entries from both tiers and returns how many were
// dropped from each.
func (c *TieredCache) Purge(ctx context.Context) (memory, durable int) {
	memory = c.memory.Sweep()
	if c.durable == nil {
		return memory, 0
	}

	opCtx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()

	n, err := c.durable.DeleteExpiredEntries(opCtx)
	if err != nil {
		c.logger.Warn("durable cache purge failed", zap.Error(err))
		return memory, 0
	}
	return memory, n
}

var _ Cache = (*TieredCache)(nil)
