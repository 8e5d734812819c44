package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/d60-Lab/job-portal/internal/model"
)

// MessageCache 单条消息与整段会话的 cache-aside 缓存；回源由调用方负责
type MessageCache struct {
	store           *Store
	messageTTL      time.Duration
	conversationTTL time.Duration
}

func NewMessageCache(store *Store, messageTTL, conversationTTL time.Duration) *MessageCache {
	if messageTTL <= 0 {
		messageTTL = time.Hour
	}
	if conversationTTL <= 0 {
		conversationTTL = 30 * time.Minute
	}
	return &MessageCache{store: store, messageTTL: messageTTL, conversationTTL: conversationTTL}
}

func messageKey(id uint) string      { return fmt.Sprintf("message:%d", id) }
func conversationKey(id uint) string { return fmt.Sprintf("conversation:%d", id) }

func (c *MessageCache) CacheMessage(ctx context.Context, msg *model.Message) error {
	return c.store.SetJSON(ctx, messageKey(msg.ID), msg, c.messageTTL)
}

func (c *MessageCache) GetMessage(ctx context.Context, id uint) (*model.Message, error) {
	var msg model.Message
	if err := c.store.GetJSON(ctx, messageKey(id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *MessageCache) CacheConversation(ctx context.Context, conversationID uint, msgs []model.Message) error {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.store.SetJSON(ctx, conversationKey(conversationID), msgs, c.conversationTTL)
}

func (c *MessageCache) GetConversation(ctx context.Context, conversationID uint) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.store.GetJSON(ctx, conversationKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// InvalidateConversation 会话有新写入后删除缓存
func (c *MessageCache) InvalidateConversation(ctx context.Context, conversationID uint) error {
	return c.store.Delete(ctx, conversationKey(conversationID))
}
