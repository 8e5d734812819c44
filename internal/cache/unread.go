package cache

import (
	"context"
	"fmt"
	"time"
)

// UnreadTracker 每个 (角色, 会话) 的未读角标计数
type UnreadTracker struct {
	store *Store
	ttl   time.Duration
}

func NewUnreadTracker(store *Store, ttl time.Duration) *UnreadTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &UnreadTracker{store: store, ttl: ttl}
}

func unreadKey(role string, conversationID uint) string {
	return fmt.Sprintf("unread:%s:%d", role, conversationID)
}

// Increment 原子 +1 并刷新 TTL
func (u *UnreadTracker) Increment(ctx context.Context, role string, conversationID uint) (int64, error) {
	return u.store.IncrWithTTL(ctx, unreadKey(role, conversationID), u.ttl)
}

// Count 不存在时返回 0
func (u *UnreadTracker) Count(ctx context.Context, role string, conversationID uint) (int64, error) {
	return u.store.GetInt(ctx, unreadKey(role, conversationID))
}

// MarkAsRead 直接删除计数器，幂等
func (u *UnreadTracker) MarkAsRead(ctx context.Context, role string, conversationID uint) error {
	return u.store.Delete(ctx, unreadKey(role, conversationID))
}
