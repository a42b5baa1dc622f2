package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cepfinder/internal/cep/models"
	"cepfinder/pkg/platform/sentinel"
)

const defaultKeyPrefix = "cep:addr:"

// Redis stores addresses as JSON strings in Redis. Expiry is delegated to
// Redis via SET EX; Clear only touches keys under this cache's prefix.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisTTL sets the key expiry. Zero keeps keys until deleted.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis creates a Redis-backed cache. client must not be nil.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) (models.Address, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Address{}, false, nil
	}
	if err != nil {
		return models.Address{}, false, fmt.Errorf("redis get %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}

	var addr models.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		_ = r.client.Del(ctx, r.key(key)).Err()
		return models.Address{}, false, fmt.Errorf("redis decode %s: %w: %w", key, sentinel.ErrCorrupt, err)
	}
	return addr, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value models.Address) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w: %w", sentinel.ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w: %w", sentinel.ErrUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
