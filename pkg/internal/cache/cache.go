package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Ledger remembers short lived keys, the message pipeline uses it to recognise resent messages.
type Ledger interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, value string, ttl time.Duration) error
}

// NewCache connects to redis when an address is configured and falls back to the process local ledger.
func NewCache() (Ledger, error) {
	addr := viper.GetString("cache.redis_addr")
	if len(addr) == 0 {
		log.Warn().Msg("No redis configured, send deduplication is process local.")
		return NewMemoryLedger(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("cache.redis_password"),
		DB:       viper.GetInt("cache.redis_db"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisLedger(rdb, "kolab:"), nil
}
