package gateway

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge 订阅 redis 频道并把负载原样转发给订阅了同名频道的连接，
// 使任意进程发布的事件都能送达本进程的 socket。
type Bridge struct {
	rdb      redis.UniversalClient
	gw       *Gateway
	patterns []string
	log      *zap.Logger
}

func NewBridge(rdb redis.UniversalClient, gw *Gateway, patterns []string, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{rdb: rdb, gw: gw, patterns: patterns, log: log}
}

// Start 订阅成功后返回停止函数
func (b *Bridge) Start(ctx context.Context) (func(context.Context) error, error) {
	if len(b.patterns) == 0 {
		return func(context.Context) error { return nil }, nil
	}
	ps := b.rdb.PSubscribe(ctx, b.patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bridge: psubscribe %v: %w", b.patterns, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			n := b.gw.BroadcastRawToChannel(msg.Channel, []byte(msg.Payload))
			b.log.Debug("relayed pub/sub event", zap.String("channel", msg.Channel), zap.Int("delivered", n))
		}
	}()
	b.log.Info("pub/sub bridge started", zap.Strings("patterns", b.patterns))

	return func(ctx context.Context) error {
		err := ps.Close()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return err
	}, nil
}
