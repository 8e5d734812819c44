// Package mailer renders and sends the portal's notification emails.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

var ErrNoRecipients = errors.New("mailer: no recipients")

// Message 一封待发送的 HTML 邮件
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPSender 机会式 STARTTLS，配置了用户名时走 PLAIN 认证。
// 每次发送新建 client，Dispatcher 的多个 worker 可以并发调用。
type SMTPSender struct {
	host    string
	timeout time.Duration
	opts    []mail.Option
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTPSender{host: cfg.Host, timeout: cfg.Timeout, opts: opts}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := buildMsg(msg)
	if err != nil {
		return err
	}
	// go-mail 只在拨号时使用 ctx；ctx 结束时关闭连接，打断阻塞在问候或命令上的读写
	var conn boundConn
	defer conn.close()
	dial := func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: s.timeout}
		c, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		return conn.set(c), nil
	}
	client, err := mail.NewClient(s.host, append(s.opts[:len(s.opts):len(s.opts)], mail.WithDialContextFunc(dial))...)
	if err != nil {
		return fmt.Errorf("mailer: smtp client: %w", err)
	}
	stop := context.AfterFunc(ctx, conn.close)
	defer stop()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("mailer: send %q to %v: %w", msg.Subject, msg.To, err)
	}
	return nil
}

// boundConn 持有一次发送的底层连接；close 之后再拨通的连接立即关闭
type boundConn struct {
	mu     sync.Mutex
	c      net.Conn
	closed bool
}

func (b *boundConn) set(c net.Conn) net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.c = c
	if b.closed {
		_ = c.Close()
	}
	return c
}

func (b *boundConn) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.c != nil {
		_ = b.c.Close()
	}
}

func buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("mailer: from %q: %w", msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("mailer: to %v: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// LogSender 未配置 SMTP 时使用：只记录日志
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	s.log.Info("email suppressed (smtp disabled)", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
