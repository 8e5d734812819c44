// Package gateway is the realtime connection registry: it authenticates WebSocket
// clients, tracks their liveness and delivers frames by role, channel or user.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/job-portal/internal/auth"
)

// TokenVerifier 校验握手令牌
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// ChannelAuthorizer decides whether c may subscribe to channel. nil allows everything.
type ChannelAuthorizer func(c *Conn, channel string) bool

type Options struct {
	MaxConnections int
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxPayload     int64
	SendBuffer     int
	FrameRate      float64
	FrameBurst     int
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 100
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 1
	}
	return o
}

type Option func(*Gateway)

func WithChannelAuthorizer(fn ChannelAuthorizer) Option {
	return func(g *Gateway) { g.authorize = fn }
}

// WithHooks 注册/注销回调（在线状态同步）。注销只针对仍在注册表中的连接触发。
func WithHooks(onRegister, onUnregister func(*Conn)) Option {
	return func(g *Gateway) {
		g.onRegister = onRegister
		g.onUnregister = onUnregister
	}
}

// WithSweepHook 每轮心跳巡检结束后以仍在注册表中的存活连接调用 fn（在线状态续期）
func WithSweepHook(fn func(live []*Conn)) Option {
	return func(g *Gateway) { g.onSweep = fn }
}

// Stats 连接统计
type Stats struct {
	TotalConnections  int `json:"totalConnections"`
	ActiveConnections int `json:"activeConnections"`
	MaxConnections    int `json:"maxConnections"`
}

type Gateway struct {
	opts      Options
	verifier  TokenVerifier
	log       *zap.Logger
	upgrader  websocket.Upgrader
	authorize ChannelAuthorizer

	onRegister   func(*Conn)
	onUnregister func(*Conn)
	onSweep      func([]*Conn)

	mu     sync.RWMutex
	conns  map[*Conn]struct{} // 所有已接受的 socket，含握手中
	byUser map[string]*Conn   // 每个身份至多一条
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func New(opts Options, verifier TokenVerifier, log *zap.Logger, options ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		opts:     opts.withDefaults(),
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 认证依赖令牌而非 cookie
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[*Conn]struct{}),
		byUser: make(map[string]*Conn),
		stopCh: make(chan struct{}),
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// Start 启动心跳巡检
func (g *Gateway) Start() {
	g.startOnce.Do(func() { go g.heartbeat() })
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newConn(g, ws)

	if code, reason, ok := g.admit(c); !ok {
		g.log.Warn("websocket connection rejected", zap.String("reason", reason), zap.String("remote_addr", r.RemoteAddr))
		c.closeWith(code, reason)
		return
	}

	timer := time.AfterFunc(g.opts.ConnectTimeout, func() {
		if c.state.CompareAndSwap(int32(stateConnecting), int32(stateClosing)) {
			g.log.Info("websocket handshake timed out", zap.String("conn_id", c.id))
			c.closeWith(CloseNormal, "Connection timeout")
		}
	})
	defer timer.Stop()

	claims, reason, err := g.authenticate(r)
	if claims == nil {
		g.log.Warn("websocket authentication failed",
			zap.String("reason", reason), zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		c.closeWith(ClosePolicyViolation, reason)
		return
	}
	c.bind(claims)
	if !c.state.CompareAndSwap(int32(stateConnecting), int32(stateAuthenticated)) {
		// 已超时或已关闭
		return
	}
	timer.Stop()

	// ack 先入队，保证它是连接上的第一帧
	_ = c.Send(Frame{
		Type:    FrameConnection,
		Message: "Connected successfully",
		UserID:  claims.UserID,
		Role:    claims.Role,
	})
	if !g.register(c) {
		return
	}
	g.log.Info("websocket client connected",
		zap.String("conn_id", c.id), zap.String("user_id", claims.UserID), zap.String("role", claims.Role))

	c.readLoop()
}

func (g *Gateway) admit(c *Conn) (code int, reason string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return CloseGoingAway, "Server shutting down", false
	}
	if len(g.conns) >= g.opts.MaxConnections {
		return CloseTryAgainLater, "Server at capacity", false
	}
	g.conns[c] = struct{}{}
	return 0, "", true
}

func (g *Gateway) authenticate(r *http.Request) (*auth.Claims, string, error) {
	token := extractToken(r)
	if token == "" {
		return nil, "Authentication required", nil
	}
	if !auth.WellFormed(token) {
		return nil, "Invalid token format", nil
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, "Invalid token", err
	}
	return claims, "", nil
}

// extractToken query 参数优先，其次 Authorization 头
func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (g *Gateway) register(c *Conn) bool {
	uid := c.UserID()
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		c.closeWith(CloseGoingAway, "Server shutting down")
		return false
	}
	if !c.open() {
		g.mu.Unlock()
		return false
	}
	old := g.byUser[uid]
	g.byUser[uid] = c
	g.mu.Unlock()

	if old != nil && old != c {
		old.log.Info("websocket connection replaced", zap.String("user_id", uid), zap.String("new_conn_id", c.id))
		old.closeWith(CloseReplaced, "replaced by a newer connection")
	}
	if g.onRegister != nil {
		g.onRegister(c)
	}
	return true
}

// release 移除连接；只有注册表中仍指向该实例时才删除身份条目
func (g *Gateway) release(c *Conn) {
	uid := c.UserID()
	g.mu.Lock()
	delete(g.conns, c)
	registered := false
	if cur, ok := g.byUser[uid]; ok && cur == c {
		delete(g.byUser, uid)
		registered = true
	}
	g.mu.Unlock()

	if registered {
		g.log.Info("websocket client disconnected", zap.String("conn_id", c.id), zap.String("user_id", uid))
		if g.onUnregister != nil {
			g.onUnregister(c)
		}
	}
}

func (g *Gateway) registered() []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Conn, 0, len(g.byUser))
	for _, c := range g.byUser {
		out = append(out, c)
	}
	return out
}

func (g *Gateway) all() []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		out = append(out, c)
	}
	return out
}

func (g *Gateway) deliver(data []byte, match func(*Conn) bool) int {
	n := 0
	for _, c := range g.registered() {
		if !c.open() || !match(c) {
			continue
		}
		if err := c.sendRaw(data); err == nil {
			n++
		}
	}
	return n
}

// BroadcastToRole 推送给该角色的所有在线连接，返回成功入队数
func (g *Gateway) BroadcastToRole(role string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.Error("marshal broadcast frame", zap.Error(err))
		return 0
	}
	return g.deliver(data, func(c *Conn) bool { return c.Role() == role })
}

func (g *Gateway) BroadcastToChannel(channel string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.Error("marshal broadcast frame", zap.Error(err))
		return 0
	}
	return g.BroadcastRawToChannel(channel, data)
}

// BroadcastRawToChannel 原样转发已序列化的负载（pub/sub 中继用）
func (g *Gateway) BroadcastRawToChannel(channel string, data []byte) int {
	return g.deliver(data, func(c *Conn) bool { return c.Subscribed(channel) })
}

// SendToUser 定向推送；用户不在线返回 false
func (g *Gateway) SendToUser(userID string, v any) bool {
	g.mu.RLock()
	c := g.byUser[userID]
	g.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.Send(v) == nil
}

func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		TotalConnections:  len(g.byUser),
		ActiveConnections: len(g.conns),
		MaxConnections:    g.opts.MaxConnections,
	}
}

// ConnInfo 单条连接的快照
type ConnInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Connections 按建连时间排序的全部连接快照（含握手中的连接）
func (g *Gateway) Connections() []ConnInfo {
	conns := g.all()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnInfo{
			ID:          c.id,
			UserID:      c.UserID(),
			Role:        c.Role(),
			State:       connState(c.state.Load()).String(),
			ConnectedAt: c.ConnectedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (g *Gateway) heartbeat() {
	t := time.NewTicker(g.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			g.sweep()
		case <-g.stopCh:
			return
		}
	}
}

// sweep 上一轮 ping 未收到 pong 的连接直接断开，其余标记为未响应并重新 ping
func (g *Gateway) sweep() {
	for _, c := range g.all() {
		if !c.open() {
			continue
		}
		if !c.alive.Swap(false) {
			g.log.Info("websocket heartbeat missed, terminating", zap.String("conn_id", c.id), zap.String("user_id", c.UserID()))
			c.terminate()
			continue
		}
		if err := c.ping(); err != nil {
			c.log.Debug("ping failed", zap.Error(err))
			c.terminate()
		}
	}
	if g.onSweep == nil {
		return
	}
	live := make([]*Conn, 0)
	for _, c := range g.registered() {
		if c.open() {
			live = append(live, c)
		}
	}
	g.onSweep(live)
}

// Shutdown 停止心跳、拒绝新连接并关闭所有现有连接
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })

	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	for _, c := range g.all() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.closeWith(CloseGoingAway, "Server shutting down")
	}
	return nil
}
