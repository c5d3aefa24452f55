package tenants

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

const cacheName = "memberships"

// MembershipLoader loads a user's memberships from the store
type MembershipLoader func(ctx context.Context, userID string) ([]*tenancy.Membership, error)

// CacheConfig configures a MembershipCache
type CacheConfig struct {
	// Size is the number of users kept in process
	Size int
	// TTL bounds how long a list is served from process memory
	TTL time.Duration
	// Redis enables the shared tier when set
	Redis     *redis.Client
	RedisTTL  time.Duration
	KeyPrefix string
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// DefaultCacheConfig returns a small short-lived cache without Redis
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:      10000,
		TTL:       30 * time.Second,
		RedisTTL:  5 * time.Minute,
		KeyPrefix: "tenantguard:memberships:",
	}
}

// MembershipCache caches membership lists per user
type MembershipCache struct {
	load     MembershipLoader
	local    *lru.LRU[string, []*tenancy.Membership]
	redis    *redis.Client
	redisTTL time.Duration
	prefix   string
	group    singleflight.Group
	// epoch advances on every invalidation; loads started in an older epoch are not stored
	epoch   atomic.Uint64
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewMembershipCache creates a cache in front of load
func NewMembershipCache(load MembershipLoader, cfg CacheConfig) *MembershipCache {
	defaults := DefaultCacheConfig()
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RedisTTL <= 0 {
		cfg.RedisTTL = defaults.RedisTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger(context.Background())
	}

	return &MembershipCache{
		load:     load,
		local:    lru.NewLRU[string, []*tenancy.Membership](cfg.Size, nil, cfg.TTL),
		redis:    cfg.Redis,
		redisTTL: cfg.RedisTTL,
		prefix:   cfg.KeyPrefix,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Get returns the user's memberships. The returned slice is a copy.
func (c *MembershipCache) Get(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	if list, ok := c.local.Get(userID); ok {
		c.metrics.ObserveCache(cacheName, "local", true)
		return copyMemberships(list), nil
	}

	epoch := c.epoch.Load()
	v, err, _ := c.group.Do(fmt.Sprintf("%s#%d", userID, epoch), func() (interface{}, error) {
		if list, ok := c.getRemote(ctx, userID); ok {
			c.metrics.ObserveCache(cacheName, "redis", true)
			c.store(ctx, userID, list, epoch, false)
			return list, nil
		}

		c.metrics.ObserveCache(cacheName, "", false)
		list, err := c.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, userID, list, epoch, true)
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return copyMemberships(v.([]*tenancy.Membership)), nil
}

// Invalidate drops the user's cached list from every tier
func (c *MembershipCache) Invalidate(ctx context.Context, userID string) {
	if c == nil {
		return
	}
	c.epoch.Add(1)
	c.local.Remove(userID)

	if c.redis != nil {
		if err := c.redis.Del(ctx, c.prefix+userID).Err(); err != nil {
			c.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate membership cache")
		}
	}
}

// Purge drops every locally cached list
func (c *MembershipCache) Purge() {
	c.epoch.Add(1)
	c.local.Purge()
}

func (c *MembershipCache) store(ctx context.Context, userID string, list []*tenancy.Membership, epoch uint64, remote bool) {
	if c.epoch.Load() != epoch {
		return
	}
	c.local.Add(userID, list)

	remote = remote && c.redis != nil
	if remote {
		c.setRemote(ctx, userID, list)
	}

	// an invalidation between the check above and the writes wins
	if c.epoch.Load() != epoch {
		c.local.Remove(userID)
		if remote {
			if err := c.redis.Del(ctx, c.prefix+userID).Err(); err != nil {
				c.logger.WithError(err).WithField("user_id", userID).Warn("failed to drop stale membership cache")
			}
		}
	}
}

func (c *MembershipCache) setRemote(ctx context.Context, userID string, list []*tenancy.Membership) {
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.WithError(err).Warn("failed to marshal memberships for cache")
		return
	}
	if err := c.redis.Set(ctx, c.prefix+userID, data, c.redisTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("failed to write membership cache")
	}
}

func (c *MembershipCache) getRemote(ctx context.Context, userID string) ([]*tenancy.Membership, bool) {
	if c.redis == nil {
		return nil, false
	}

	key := c.prefix + userID
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.logger.WithError(err).Warn("membership cache read failed")
		return nil, false
	}

	var list []*tenancy.Membership
	if err := json.Unmarshal(data, &list); err != nil {
		c.redis.Del(ctx, key)
		return nil, false
	}
	return list, true
}

func copyMemberships(in []*tenancy.Membership) []*tenancy.Membership {
	out := make([]*tenancy.Membership, len(in))
	for i, m := range in {
		c := *m
		out[i] = &c
	}
	return out
}
