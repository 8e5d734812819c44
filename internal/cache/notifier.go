package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Notifier 将结构化事件发布到 redis 频道，网关进程订阅同名频道后转发给客户端
type Notifier struct {
	store *Store
}

func NewNotifier(store *Store) *Notifier { return &Notifier{store: store} }

func (n *Notifier) Publish(ctx context.Context, channel string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("cache: encode event for %s: %w", channel, err)
	}
	return n.store.Publish(ctx, channel, payload)
}
