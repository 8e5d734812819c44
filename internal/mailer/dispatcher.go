package mailer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("mailer: queue full")

// Dispatcher 异步发信：有界队列 + 固定 worker，队列满时丢弃并告警
type Dispatcher struct {
	next    Sender
	ch      chan Message
	log     *zap.Logger
	timeout time.Duration
}

func NewDispatcher(next Sender, queueSize int, log *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{next: next, ch: make(chan Message, queueSize), log: log, timeout: 30 * time.Second}
}

// Start 启动 worker，返回的停止函数会在 ctx 允许的时间内排空队列
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				case <-stopCh:
					for {
						select {
						case msg := <-d.ch:
							d.deliver(msg)
						default:
							return
						}
					}
				}
			}
		}()
	}

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stopCh) })
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.next.Send(ctx, msg); err != nil {
		d.log.Warn("email delivery failed", zap.Strings("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Send 入队即返回
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	select {
	case d.ch <- msg:
		return nil
	default:
		d.log.Warn("mail queue full, drop", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
		return ErrQueueFull
	}
}

// QueueLen 当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }
