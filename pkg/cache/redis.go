package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore backs the result cache with Redis for multi-node
// deployments. TTL and eviction are delegated to Redis itself; this type
// only namespaces keys and absorbs backend errors into misses.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisStore wraps an existing client. The prefix namespaces scan
// entries away from whatever else shares the instance.
func NewRedisStore(client *redis.Client, prefix string, log *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "shield:scan:"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

// Get fetches a value. Any backend error, including a dropped
// connection, is a miss: the scan recomputes instead of failing.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("redis cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return val, true
}

// Set stores a value with the given TTL. Write failures are logged and
// dropped; a cold cache is acceptable, a failed scan is not.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		s.log.Warn("redis cache write failed", zap.Error(err))
	}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
