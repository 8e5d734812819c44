package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/job-portal/pkg/logger"
)

// 读取-判断-自增-设置过期在一个脚本里完成，避免并发请求在两次往返之间穿透
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RateLimiter 固定窗口计数器
type RateLimiter struct {
	store *Store
}

func NewRateLimiter(store *Store) *RateLimiter { return &RateLimiter{store: store} }

// Allow 当前窗口计数 < limit 时放行并计数。存储故障时放行（fail-open）。
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	ok, err := fixedWindowScript.Run(ctx, l.store.rdb, []string{"ratelimit:" + key}, limit, ms).Int()
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok == 1
}
