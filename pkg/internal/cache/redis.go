package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (v *RedisLedger) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := v.rdb.Get(ctx, v.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Remember keeps the first value written for a key.
func (v *RedisLedger) Remember(ctx context.Context, key, value string, ttl time.Duration) error {
	return v.rdb.SetNX(ctx, v.prefix+key, value, ttl).Err()
}
