package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
)

const defaultPrefix = "mindshare:reputation:"

// Redis stores records as JSON strings with a native expiry.
type Redis struct {
	client redis.Cmdable
	prefix string
}

var _ reputation.Cache = (*Redis)(nil)

// NewRedis connects lazily to addr.
func NewRedis(addr string) *Redis {
	return NewRedisClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}))
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client redis.Cmdable) *Redis {
	return &Redis{client: client, prefix: defaultPrefix}
}

func (r *Redis) key(user model.Address) string { return r.prefix + string(user) }

// Get returns the cached record; a missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, user model.Address) (reputation.Record, bool, error) {
	raw, err := r.client.Get(ctx, r.key(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return reputation.Record{}, false, nil
	}
	if err != nil {
		return reputation.Record{}, false, fmt.Errorf("cache.redis_get: %w", err)
	}
	var rec reputation.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return reputation.Record{}, false, fmt.Errorf("cache.redis_decode: %w", err)
	}
	return rec, true, nil
}

// Set stores rec for ttl.
func (r *Redis) Set(ctx context.Context, rec reputation.Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache.redis_encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.Address), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache.redis_set: %w", err)
	}
	return nil
}

// Delete drops the user's record.
func (r *Redis) Delete(ctx context.Context, user model.Address) error {
	if err := r.client.Del(ctx, r.key(user)).Err(); err != nil {
		return fmt.Errorf("cache.redis_del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
