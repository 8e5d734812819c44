package cache

import (
	"context"
	"time"
)

// SessionStore 短期凭据/配置的 TTL 存储。Get 返回 ErrMiss 时调用方应按"会话无效"处理。
type SessionStore struct {
	store      *Store
	defaultTTL time.Duration
}

func NewSessionStore(store *Store, defaultTTL time.Duration) *SessionStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &SessionStore{store: store, defaultTTL: defaultTTL}
}

// Set ttl<=0 使用默认 TTL
func (s *SessionStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.store.SetJSON(ctx, "session:"+key, value, ttl)
}

func (s *SessionStore) Get(ctx context.Context, key string, dest any) error {
	return s.store.GetJSON(ctx, "session:"+key, dest)
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, "session:"+key)
}
