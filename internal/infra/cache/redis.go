package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds durable tier connection settings.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Redis is the durable write-through tier. Each entry is stored twice: the
// primary key expires at the TTL boundary, a shadow key survives for the
// stale retention window so expired payloads remain reachable as a
// last-resort fallback. Expiry is native, so sweeping is redis's job.
type Redis struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedis connects and pings the durable tier.
func NewRedis(cfg RedisConfig, retention time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{rdb: rdb, retention: retention}, nil
}

// Close closes the underlying connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func freshKey(key Key) string { return fmt.Sprintf("cache:%s", key) }
func staleKey(key Key) string { return fmt.Sprintf("stale:%s", key) }

// Set writes both the fresh and shadow copies.
func (r *Redis) Set(ctx context.Context, key Key, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.rdb.Set(ctx, freshKey(key), data, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := r.rdb.Set(ctx, staleKey(key), data, e.TTL+r.retention).Err(); err != nil {
		return fmt.Errorf("redis set shadow: %w", err)
	}
	return nil
}

// Get reads the fresh copy, falling back to the shadow copy when the primary
// has expired. found reports presence of either.
func (r *Redis) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	data, err := r.rdb.Get(ctx, freshKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		data, err = r.rdb.Get(ctx, staleKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &e, true, nil
}

// Delete removes both copies.
func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.rdb.Del(ctx, freshKey(key), staleKey(key)).Err()
}
