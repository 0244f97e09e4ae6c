package evolution

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore shared across processes, for deployments
// running more than one worker against the same gateway.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(cfg RateLimitConfig) *RedisStore {
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		prefix: "evolution:ratelimit:",
	}
}

// NewRedisStoreWithClient wraps an existing client, for hosts that already
// manage one.
func NewRedisStoreWithClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "evolution:ratelimit:"}
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, s.prefix+key)
	pipe.ExpireNX(ctx, s.prefix+key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Get(ctx, s.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// -2 no key, -1 no expiry
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}
