package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/admissions/core"
)

const keyPrefix = "admissions:cache:"

// Redis is a core.QueryCache shared by every instance of the service.
// Each group keeps the set of its keys so it can be dropped in one call.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ core.QueryCache = (*Redis)(nil) // interface compliance check

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func groupKey(group string) string { return keyPrefix + group }

func entryKey(group, key string) string { return keyPrefix + group + ":" + key }

func (c *Redis) Get(ctx context.Context, group, key string, dest interface{}) (bool, error) {
	val, err := c.rdb.Get(ctx, entryKey(group, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading cached %s/%s", group, key)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, errors.Wrapf(err, "decoding cached %s/%s", group, key)
	}
	return true, nil
}

func (c *Redis) Set(ctx context.Context, group, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", group, key)
	}
	k := entryKey(group, key)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, data, c.ttl)
		pipe.SAdd(ctx, groupKey(group), k)
		return nil
	})
	return errors.Wrapf(err, "caching %s/%s", group, key)
}

func (c *Redis) InvalidateGroups(ctx context.Context, groups ...string) error {
	for _, g := range groups {
		keys, err := c.rdb.SMembers(ctx, groupKey(g)).Result()
		if err != nil {
			return errors.Wrapf(err, "listing %s keys", g)
		}
		keys = append(keys, groupKey(g))
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrapf(err, "invalidating %s", g)
		}
	}
	return nil
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return rdb, nil
}
