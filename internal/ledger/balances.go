package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache is a versioned Redis cache in front of entity_balances.
// Invalidation bumps the per-company version so stale keys simply expire.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache constructs a BalanceCache. A nil client disables caching.
func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func (c *BalanceCache) versionKey(companyID int64) string {
	return fmt.Sprintf("ledger:balances:v:%d", companyID)
}

func (c *BalanceCache) entryKey(companyID, version int64, entityType EntityType, entityID int64) string {
	return fmt.Sprintf("ledger:balances:%d:%d:%s:%d", companyID, version, entityType, entityID)
}

func (c *BalanceCache) version(ctx context.Context, companyID int64) (int64, error) {
	v, err := c.rdb.Get(ctx, c.versionKey(companyID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get returns the cached balance, or found=false on miss or disabled cache.
func (c *BalanceCache) Get(ctx context.Context, companyID int64, entityType EntityType, entityID int64) (EntityBalance, bool) {
	if c == nil || c.rdb == nil {
		return EntityBalance{}, false
	}
	version, err := c.version(ctx, companyID)
	if err != nil {
		return EntityBalance{}, false
	}
	raw, err := c.rdb.Get(ctx, c.entryKey(companyID, version, entityType, entityID)).Bytes()
	if err != nil {
		return EntityBalance{}, false
	}
	var b EntityBalance
	if err := json.Unmarshal(raw, &b); err != nil {
		return EntityBalance{}, false
	}
	return b, true
}

// Set stores the balance under the current version.
func (c *BalanceCache) Set(ctx context.Context, b EntityBalance) {
	if c == nil || c.rdb == nil {
		return
	}
	version, err := c.version(ctx, b.CompanyID)
	if err != nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, c.entryKey(b.CompanyID, version, b.EntityType, b.EntityID), raw, c.ttl)
}

// Invalidate bumps the company version, orphaning all cached balances.
func (c *BalanceCache) Invalidate(ctx context.Context, companyID int64) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Incr(ctx, c.versionKey(companyID))
}
