package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotCache is an explicitly passed, explicitly invalidated read-through
// cache over slot lookups. It serves browse traffic only; settlement paths
// must read the store directly so they always see committed truth.
//
// With a nil redis client the cache degrades to direct store reads, and the
// invalidation helpers are safe to call on a nil *SlotCache.
type SlotCache struct {
	rdb   *redis.Client
	store Store
	ttl   time.Duration
}

// DefaultCacheTTL bounds how long a cached slot lookup may serve stale data
// to browse endpoints.
const DefaultCacheTTL = 30 * time.Second

// NewSlotCache creates a SlotCache over the given store.
func NewSlotCache(rdb *redis.Client, store Store, ttl time.Duration) *SlotCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SlotCache{rdb: rdb, store: store, ttl: ttl}
}

func slotCacheKey(movieID, parentID uint64, slot Slot) string {
	return fmt.Sprintf("plotline:slot:%d:%d:%s", movieID, parentID, slot)
}

// GetBySlot returns the scene holding a slot, consulting the cache first.
// Cache failures fall back to the store; the cache never masks the store's
// not-found result because misses are not negatively cached.
func (c *SlotCache) GetBySlot(ctx context.Context, movieID, parentID uint64, slot Slot) (*SceneNode, error) {
	if c.rdb == nil {
		return c.store.GetBySlot(ctx, movieID, parentID, slot)
	}

	key := slotCacheKey(movieID, parentID, slot)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var n SceneNode
		if jsonErr := json.Unmarshal(raw, &n); jsonErr == nil {
			return &n, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "slot cache read failed", "key", key, "error", err)
	}

	n, err := c.store.GetBySlot(ctx, movieID, parentID, slot)
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(n); jsonErr == nil {
		if setErr := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
			slog.WarnContext(ctx, "slot cache write failed", "key", key, "error", setErr)
		}
	}
	return n, nil
}

// Invalidate drops the cached entry for a slot. Verification and lock
// transitions call this after every committed write.
func (c *SlotCache) Invalidate(ctx context.Context, movieID, parentID uint64, slot Slot) {
	if c == nil || c.rdb == nil {
		return
	}
	key := slotCacheKey(movieID, parentID, slot)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		slog.WarnContext(ctx, "slot cache invalidation failed", "key", key, "error", err)
	}
}

// InvalidateNode drops the cached entry for the slot a node occupies.
func (c *SlotCache) InvalidateNode(ctx context.Context, n *SceneNode) {
	if n == nil || n.ParentID == nil || n.SlotRef == nil {
		return
	}
	c.Invalidate(ctx, n.MovieID, *n.ParentID, *n.SlotRef)
}
