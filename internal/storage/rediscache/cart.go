package rediscache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Cache = (*CartCache)(nil)

const (
	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute
)

// setIfNewerScript writes the entry only when the cached version is older.
var setIfNewerScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// CartCache stores serialized carts in a hash under cart:<user> next to
// their version, with a jittered TTL so entries written together do not
// expire together.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  time.Duration
}

// NewCartCache returns a CartCache. A zero ttl uses the default.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CartCache{client: client, baseTTL: ttl, jitter: defaultJitter}
}

// Get returns the cached cart or cart.ErrCacheMiss.
func (c *CartCache) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := c.client.HGet(ctx, cacheKey(userID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var v cart.Cart
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	return &v, nil
}

// Set caches a cart unless the entry already holds its version or a newer one.
func (c *CartCache) Set(ctx context.Context, userID string, v *cart.Cart) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}
	args := []any{strconv.FormatInt(v.Version, 10), data, c.ttl().Milliseconds()}
	if err := setIfNewerScript.Run(ctx, c.client, []string{cacheKey(userID)}, args...).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete drops the cached cart.
func (c *CartCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (c *CartCache) ttl() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + rand.N(c.jitter)
}

func cacheKey(userID string) string {
	return "cart:" + userID
}
