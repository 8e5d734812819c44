// Package cache wraps redis behind small task-oriented facades. Every value
// here is a lookaside copy; the relational store or the issuing operation
// stays the source of truth, so callers must treat ErrMiss as normal.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss 键不存在或已过期
var ErrMiss = errors.New("cache: miss")

// Store KV 适配器：只暴露单键原子操作（get/set/expire/incr/publish/hash）
type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store { return &Store{rdb: rdb} }

// Client 原始客户端（pub/sub 订阅方使用）
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// GetJSON 解码到 dest；不存在返回 ErrMiss
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: del %v: %w", keys, err)
	}
	return nil
}

// IncrWithTTL 原子自增并刷新过期时间
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache: incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// GetInt 不存在按 0 处理
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("cache: publish %s: %w", channel, err)
	}
	return nil
}

// HSetWithTTL 写 hash 字段并刷新整个 hash 的过期时间
func (s *Store) HSetWithTTL(ctx context.Context, key, field, value string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: hset %s: %w", key, err)
	}
	return nil
}

// HReplaceWithTTL 用 values 整体替换 hash 并设置过期时间；values 为空时删除该 hash
func (s *Store) HReplaceWithTTL(ctx context.Context, key string, values map[string]string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]any, 0, 2*len(values))
		for f, v := range values {
			args = append(args, f, v)
		}
		pipe.HSet(ctx, key, args...)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: hreplace %s: %w", key, err)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache: hget %s: %w", key, err)
	}
	return v, nil
}

var hdelIfEqualScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call('HDEL', KEYS[1], ARGV[1])
end
return 0
`)

// HDelIfEqual 仅当字段当前值等于 value 时删除，返回是否删除
func (s *Store) HDelIfEqual(ctx context.Context, key, field, value string) (bool, error) {
	n, err := hdelIfEqualScript.Run(ctx, s.rdb, []string{key}, field, value).Int()
	if err != nil {
		return false, fmt.Errorf("cache: hdel %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: hlen %s: %w", key, err)
	}
	return n, nil
}
