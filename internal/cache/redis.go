package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/redis/go-redis/v9"
)

const (
	entryPrefix = "cache:entry:"
	indexKey    = "cache:index" // zset scored by CachedAt unix seconds
)

// Redis is the redis-backed Store. Entries are kept alongside a sorted-set
// index on CachedAt so eviction can walk oldest-first.
type Redis struct {
	rdb *redis.Client
	clk clock.Clock
}

func NewRedis(redisURL string, clk clock.Clock) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{rdb: rdb, clk: clk}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.rdb.Get(ctx, entryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return &e, nil
}

func (r *Redis) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	now := r.clk.Now()
	e := Entry{Key: key, Payload: payload, CachedAt: now, ExpiresAt: now.Add(ttl)}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, entryPrefix+key, raw, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now.Unix()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Evict(ctx context.Context, key string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, entryPrefix+key)
	pipe.ZRem(ctx, indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache evict %s: %w", key, err)
	}
	return nil
}

func (r *Redis) ScanExpired(ctx context.Context, now time.Time) ([]string, error) {
	keys, err := r.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache scan: %w", err)
	}
	var expired []string
	for _, k := range keys {
		e, err := r.Get(ctx, k)
		if errors.Is(err, ErrMiss) {
			// Entry vanished out from under the index; queue it for eviction
			// so the index self-heals.
			expired = append(expired, k)
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.Expired(now) {
			expired = append(expired, k)
		}
	}
	return expired, nil
}

func (r *Redis) Oldest(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	keys, err := r.rdb.ZRange(ctx, indexKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache oldest: %w", err)
	}
	return keys, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	return int(n), nil
}
