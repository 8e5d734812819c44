package cache

import (
	"context"
	"time"
)

const onlineUsersKey = "online_users"

// Presence 在线用户表：userID -> 连接 ID
type Presence struct {
	store *Store
	ttl   time.Duration
}

func NewPresence(store *Store, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Presence{store: store, ttl: ttl}
}

func (p *Presence) SetOnline(ctx context.Context, userID, connID string) error {
	return p.store.HSetWithTTL(ctx, onlineUsersKey, userID, connID, p.ttl)
}

// Refresh 以巡检时的存活连接整体替换在线表。SetOnline/SetOffline 异步执行可能乱序，
// 乱序留下的条目最迟在下一轮巡检被清除。
func (p *Presence) Refresh(ctx context.Context, online map[string]string) error {
	return p.store.HReplaceWithTTL(ctx, onlineUsersKey, online, p.ttl)
}

// Connection 返回用户当前的连接 ID，不在线返回 ErrMiss
func (p *Presence) Connection(ctx context.Context, userID string) (string, error) {
	return p.store.HGet(ctx, onlineUsersKey, userID)
}

// SetOffline 只删除仍指向 connID 的条目，被替换连接的迟到下线不会删掉新连接
func (p *Presence) SetOffline(ctx context.Context, userID, connID string) error {
	_, err := p.store.HDelIfEqual(ctx, onlineUsersKey, userID, connID)
	return err
}

func (p *Presence) OnlineCount(ctx context.Context) (int64, error) {
	return p.store.HLen(ctx, onlineUsersKey)
}
