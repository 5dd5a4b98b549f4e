// Package cache is a read-through helper keyed by strings and invalidated by tags.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tagPrefix = "tag:"
	genPrefix = "gen:"
)

// ErrStale means a guarded tag was invalidated after the snapshot was taken,
// so the value being written may predate the change. Nothing is stored.
var ErrStale = errors.New("cache: stale write skipped")

// Generation is the version of each tag, taken before reading from the database.
type Generation map[string]int64

// Cache is the contract the usecases depend on.
type Cache interface {
	// Get decodes the cached value into dst. false when the key is absent.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Snapshot reads the current generation of the guard tags.
	Snapshot(ctx context.Context, tags ...string) (Generation, error)
	// Set stores v under key and records it in every tag set, unless a tag in
	// gen moved since the snapshot (ErrStale).
	Set(ctx context.Context, key string, v any, ttl time.Duration, gen Generation, tags ...string) error
	RemoveByTag(ctx context.Context, tags ...string) error
}

func TagOrder(orderID int64) string     { return fmt.Sprintf("order:%d", orderID) }
func TagCart(userID int64) string       { return fmt.Sprintf("cart:%d", userID) }
func TagVariant(variantID int64) string { return fmt.Sprintf("variant:%d", variantID) }

const (
	TagOrders = "orders"
	// 在庫変更のたびに進む世代。カートのキャッシュ書き込みを守る
	TagVariants = "variants"
)

func KeyOrderByID(orderID int64) string { return fmt.Sprintf("order:id:%d", orderID) }
func KeyOrderByNumber(n string) string  { return "order:number:" + n }
func KeyCart(userID int64) string       { return fmt.Sprintf("cart:user:%d", userID) }

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// 壊れた値は消してミス扱い
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Snapshot(ctx context.Context, tags ...string) (Generation, error) {
	gen := make(Generation, len(tags))
	if len(tags) == 0 {
		return gen, nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = genPrefix + tag
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, tag := range tags {
		gen[tag] = 0
		if s, ok := vals[i].(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("generation of %s: %w", tag, err)
			}
			gen[tag] = n
		}
	}
	return gen, nil
}

// KEYS = key, gen keys..., tag sets...
// ARGV = value, ttl(ms), gen key 数, 期待する世代...
var setIfFresh = redis.NewScript(`
local n = tonumber(ARGV[3])
for i = 1, n do
  local cur = tonumber(redis.call("GET", KEYS[1 + i]) or "0")
  if cur ~= tonumber(ARGV[3 + i]) then
    return 0
  end
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
for i = 2 + n, #KEYS do
  redis.call("SADD", KEYS[i], KEYS[1])
  if ttl > 0 then
    redis.call("PEXPIRE", KEYS[i], ttl)
  end
end
return 1
`)

// Set stores v as JSON and records key under every tag set. The generation
// check and the write run as one script, so an invalidation cannot slip in between.
func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration, gen Generation, tags ...string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	keys := make([]string, 0, 1+len(gen)+len(tags))
	args := make([]any, 0, 3+len(gen))
	keys = append(keys, key)
	args = append(args, raw, ttl.Milliseconds(), len(gen))
	for tag, n := range gen {
		keys = append(keys, genPrefix+tag)
		args = append(args, n)
	}
	for _, tag := range tags {
		keys = append(keys, tagPrefix+tag)
	}

	stored, err := setIfFresh.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		return ErrStale
	}
	return nil
}

// RemoveByTag bumps each tag's generation, then deletes every key recorded
// under it and the tag set. Idempotent.
func (c *RedisCache) RemoveByTag(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		// 先に世代を進める。読み込み中の Set はこれで弾かれる
		if err := c.rdb.Incr(ctx, genPrefix+tag).Err(); err != nil {
			return err
		}
		setKey := tagPrefix + tag
		keys, err := c.rdb.SMembers(ctx, setKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		keys = append(keys, setKey)
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Noop is used when no Redis is configured.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)          { return false, nil }
func (Noop) Snapshot(context.Context, ...string) (Generation, error) { return Generation{}, nil }
func (Noop) RemoveByTag(context.Context, ...string) error            { return nil }
func (Noop) Set(context.Context, string, any, time.Duration, Generation, ...string) error {
	return nil
}
