package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/job-portal/internal/auth"
)

type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn 一条 WebSocket 连接。数据帧只由 writeLoop 写出，控制帧走 WriteControl。
type Conn struct {
	id  string
	gw  *Gateway
	ws  *websocket.Conn
	log *zap.Logger

	state atomic.Int32
	alive atomic.Bool

	mu     sync.RWMutex
	claims *auth.Claims
	subs   map[string]struct{}

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	connectedAt time.Time
}

func newConn(g *Gateway, ws *websocket.Conn) *Conn {
	limit := rate.Inf
	if g.opts.FrameRate > 0 {
		limit = rate.Limit(g.opts.FrameRate)
	}
	c := &Conn{
		id:          uuid.NewString(),
		gw:          g,
		ws:          ws,
		subs:        make(map[string]struct{}),
		sendCh:      make(chan []byte, g.opts.SendBuffer),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(limit, g.opts.FrameBurst),
		connectedAt: time.Now(),
	}
	c.log = g.log.With(zap.String("conn_id", c.id))
	c.alive.Store(true)
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

func (c *Conn) UserID() string {
	if cl := c.Claims(); cl != nil {
		return cl.UserID
	}
	return ""
}

func (c *Conn) Role() string {
	if cl := c.Claims(); cl != nil {
		return cl.Role
	}
	return ""
}

// Claims 返回认证时解析出的令牌载荷，未认证时为 nil
func (c *Conn) Claims() *auth.Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims
}

func (c *Conn) bind(claims *auth.Claims) {
	c.mu.Lock()
	c.claims = claims
	c.mu.Unlock()
}

func (c *Conn) open() bool { return connState(c.state.Load()) == stateAuthenticated }

func (c *Conn) subscribe(channel string) {
	c.mu.Lock()
	c.subs[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subs, channel)
	c.mu.Unlock()
}

// Subscribed reports whether the connection is subscribed to channel.
func (c *Conn) Subscribed(channel string) bool {
	c.mu.RLock()
	_, ok := c.subs[channel]
	c.mu.RUnlock()
	return ok
}

// Send 序列化后入队；连接已关闭返回 ErrConnClosed
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Conn) sendRaw(data []byte) error {
	if !c.open() {
		return ErrConnClosed
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		// 写不进去等同写失败
		c.log.Warn("send buffer full, dropping connection", zap.String("user_id", c.UserID()))
		go c.terminate()
		return ErrSendBufferFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.terminate()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(c.gw.opts.MaxPayload)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", zap.Error(err))
			}
			c.terminate()
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn("inbound frame rate exceeded, dropping frame", zap.String("user_id", c.UserID()))
			continue
		}
		c.gw.handleFrame(c, data)
	}
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.gw.opts.WriteTimeout))
}

// closeWith 发送 close 帧后关闭底层连接；code 为 0 时直接断开
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		close(c.done)
		_ = c.ws.Close()
		c.state.Store(int32(stateClosed))
		c.gw.release(c)
	})
}

func (c *Conn) terminate() { c.closeWith(0, "") }
