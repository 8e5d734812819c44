package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/d60-Lab/job-portal/internal/auth"
	"github.com/d60-Lab/job-portal/internal/model"
)

const testSecret = "gateway-test-secret"

type harness struct {
	gw   *Gateway
	srv  *httptest.Server
	logs *observer.ObservedLogs
	mgr  *auth.Manager
}

func newHarness(t *testing.T, opts Options, options ...Option) *harness {
	t.Helper()
	mgr := auth.NewManager(auth.Options{Secret: testSecret})
	return newHarnessWithVerifier(t, opts, mgr, mgr, options...)
}

func newHarnessWithVerifier(t *testing.T, opts Options, mgr *auth.Manager, v TokenVerifier, options ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	gw := New(opts, v, zap.New(core), options...)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return &harness{gw: gw, srv: srv, logs: logs, mgr: mgr}
}

func (h *harness) url(token string) string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := h.mgr.IssueAccess(userID, userID+"@test", role)
	require.NoError(t, err)
	return tok
}

// connectAs 建连并读掉 ack
func (h *harness) connectAs(t *testing.T, userID, role string) *websocket.Conn {
	t.Helper()
	c := h.dial(t, h.token(t, userID, role))
	ack := readFrame(t, c)
	require.Equal(t, FrameConnection, ack.Type)
	// ack 先于注册入队
	require.Eventually(t, func() bool { return h.conn(userID) != nil }, time.Second, 5*time.Millisecond)
	return c
}

func (h *harness) conn(userID string) *Conn {
	h.gw.mu.RLock()
	defer h.gw.mu.RUnlock()
	return h.gw.byUser[userID]
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func expectClose(t *testing.T, c *websocket.Conn) (int, string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code, ce.Text
	}
}

func writeJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func TestGateway_AcceptSendsAck(t *testing.T) {
	h := newHarness(t, Options{})

	c := h.dial(t, h.token(t, "7", model.RoleAdmin))
	ack := readFrame(t, c)

	assert.Equal(t, FrameConnection, ack.Type)
	assert.Equal(t, "Connected successfully", ack.Message)
	assert.Equal(t, "7", ack.UserID)
	assert.Equal(t, model.RoleAdmin, ack.Role)
	require.Eventually(t, func() bool { return h.gw.Stats().TotalConnections == 1 }, time.Second, 10*time.Millisecond)
}

func TestGateway_AuthorizationHeaderFallback(t *testing.T) {
	h := newHarness(t, Options{})

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+h.token(t, "8", model.RoleAdmin))
	c, _, err := websocket.DefaultDialer.Dial(h.url(""), hdr)
	require.NoError(t, err)
	defer c.Close()

	ack := readFrame(t, c)
	assert.Equal(t, "8", ack.UserID)
}

func TestGateway_RejectsBadTokens(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "7",
		Role:   model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "job-portal",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	foreign, err := auth.NewManager(auth.Options{Secret: "someone-else"}).IssueAccess("7", "", model.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", "Authentication required"},
		{"malformed", "not-a-jwt", "Invalid token format"},
		{"wrong secret", foreign, "Invalid token"},
		{"expired", expired, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			c := h.dial(t, tt.token)

			code, text := expectClose(t, c)
			assert.Equal(t, ClosePolicyViolation, code)
			assert.Equal(t, tt.reason, text)

			require.Eventually(t, func() bool { return h.gw.Stats().ActiveConnections == 0 }, time.Second, 10*time.Millisecond)
			assert.Equal(t, 0, h.gw.Stats().TotalConnections)
			assert.Equal(t, 1, h.logs.FilterMessage("websocket authentication failed").Len())
		})
	}
}

func TestGateway_CapacityRejectsBeforeAuth(t *testing.T) {
	h := newHarness(t, Options{MaxConnections: 1})
	h.connectAs(t, "1", model.RoleAdmin)

	// 令牌无效：若走到认证步骤会留下认证失败日志
	c := h.dial(t, "bogus.token.value")
	code, _ := expectClose(t, c)

	assert.Equal(t, CloseTryAgainLater, code)
	assert.Equal(t, 0, h.logs.FilterMessage("websocket authentication failed").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("websocket connection rejected").Len())
	assert.Equal(t, 1, h.gw.Stats().TotalConnections)
}

func TestGateway_DuplicateIdentityReplacesOlder(t *testing.T) {
	var registered, unregistered atomic.Int32
	h := newHarness(t, Options{}, WithHooks(
		func(*Conn) { registered.Add(1) },
		func(*Conn) { unregistered.Add(1) },
	))

	first := h.connectAs(t, "7", model.RoleAdmin)
	firstConn := h.conn("7")
	second := h.connectAs(t, "7", model.RoleAdmin)

	code, text := expectClose(t, first)
	assert.Equal(t, CloseReplaced, code)
	assert.Equal(t, "replaced by a newer connection", text)

	require.Eventually(t, func() bool { return h.gw.Stats().ActiveConnections == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.gw.Stats().TotalConnections)
	assert.NotSame(t, firstConn, h.conn("7"))
	require.Eventually(t, func() bool { return registered.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, unregistered.Load())

	require.True(t, h.gw.SendToUser("7", Frame{Type: FrameSystemMessage, Message: "hi"}))
	f := readFrame(t, second)
	assert.Equal(t, FrameSystemMessage, f.Type)
}

func TestGateway_SubscribeUnsubscribePing(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.connectAs(t, "7", model.RoleAdmin)

	writeJSON(t, c, map[string]string{"type": "subscribe", "channel": "admin_7"})
	f := readFrame(t, c)
	assert.Equal(t, FrameSubscribed, f.Type)
	assert.Equal(t, "admin_7", f.Channel)

	assert.Equal(t, 1, h.gw.BroadcastToChannel("admin_7", Frame{Type: FrameNewMessage}))
	assert.Equal(t, FrameNewMessage, readFrame(t, c).Type)

	writeJSON(t, c, map[string]string{"type": "unsubscribe", "channel": "admin_7"})
	f = readFrame(t, c)
	assert.Equal(t, FrameUnsubscribed, f.Type)
	assert.Equal(t, 0, h.gw.BroadcastToChannel("admin_7", Frame{Type: FrameNewMessage}))

	// 缺少 channel 的订阅回 error 帧，连接保持
	writeJSON(t, c, map[string]string{"type": "subscribe"})
	writeJSON(t, c, map[string]string{"type": "ping"})
	f = readFrame(t, c)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "Invalid channel", f.Message)
	f = readFrame(t, c)
	assert.Equal(t, FramePong, f.Type)
	assert.Greater(t, f.Timestamp, int64(0))
}

func TestGateway_MalformedFrameKeepsConnection(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.connectAs(t, "7", model.RoleAdmin)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	writeJSON(t, c, map[string]string{"type": "launch_rockets"})
	writeJSON(t, c, map[string]string{"type": "ping"})

	assert.Equal(t, FramePong, readFrame(t, c).Type)
	assert.Equal(t, 1, h.logs.FilterMessage("malformed websocket frame").Len())
	assert.Equal(t, 1, h.gw.Stats().TotalConnections)
}

func TestGateway_BroadcastToRoleAndUser(t *testing.T) {
	h := newHarness(t, Options{})
	admin := h.connectAs(t, "1", model.RoleAdmin)
	guest := h.connectAs(t, "employer:42:hr@acme.test", model.RoleEmployerGuest)

	assert.Equal(t, 1, h.gw.NotifyRequestStatusChange(42, model.RequestStatusReviewing, model.RoleAdmin))
	f := readFrame(t, admin)
	assert.Equal(t, FrameRequestStatusChange, f.Type)
	data, ok := f.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, data["requestId"])
	assert.Equal(t, model.RequestStatusReviewing, data["status"])

	// 访客没有收到角色广播：它的下一帧是定向消息
	require.True(t, h.gw.SendToUser("employer:42:hr@acme.test", Frame{Type: FrameNewMessage}))
	assert.Equal(t, FrameNewMessage, readFrame(t, guest).Type)

	assert.False(t, h.gw.SendToUser("nobody", Frame{Type: FrameNewMessage}))
	assert.Equal(t, 1, h.gw.NotifyDashboardUpdate(model.RoleAdmin))
	assert.Equal(t, FrameDashboardUpdate, readFrame(t, admin).Type)
}

func TestGateway_GuestChannelAuthorizer(t *testing.T) {
	h := newHarness(t, Options{}, WithChannelAuthorizer(GuestChannelAuthorizer))
	tok, err := h.mgr.IssueGuest(42, "hr@acme.test")
	require.NoError(t, err)
	c := h.dial(t, tok)
	require.Equal(t, FrameConnection, readFrame(t, c).Type)

	writeJSON(t, c, map[string]string{"type": "subscribe", "channel": "employer_43"})
	writeJSON(t, c, map[string]string{"type": "subscribe", "channel": "employer_42"})

	f := readFrame(t, c)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "employer_43", f.Channel)
	assert.Equal(t, "Subscription denied", f.Message)

	f = readFrame(t, c)
	assert.Equal(t, FrameSubscribed, f.Type)
	assert.Equal(t, "employer_42", f.Channel)
	assert.Equal(t, 1, h.logs.FilterMessage("channel subscription denied").Len())
	assert.Equal(t, 0, h.gw.BroadcastToChannel("employer_43", Frame{Type: FrameNewMessage}))
}

func TestGateway_HeartbeatTerminatesSilentClient(t *testing.T) {
	h := newHarness(t, Options{})
	h.connectAs(t, "7", model.RoleAdmin) // 不再读取，ping 得不到 pong

	h.gw.sweep()
	assert.Equal(t, 1, h.gw.Stats().TotalConnections)

	h.gw.sweep()
	require.Eventually(t, func() bool { return h.gw.Stats().ActiveConnections == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.gw.Stats().TotalConnections)
}

func TestGateway_HeartbeatKeepsResponsiveClient(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.connectAs(t, "7", model.RoleAdmin)
	go func() {
		// 读循环负责回 pong
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
	conn := h.conn("7")
	require.NotNil(t, conn)

	for i := 0; i < 3; i++ {
		h.gw.sweep()
		require.Eventually(t, conn.alive.Load, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, 1, h.gw.Stats().TotalConnections)
}

func TestGateway_SweepHookReportsLiveConnections(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][]string
	)
	h := newHarness(t, Options{}, WithSweepHook(func(live []*Conn) {
		ids := make([]string, 0, len(live))
		for _, c := range live {
			ids = append(ids, c.UserID())
		}
		mu.Lock()
		calls = append(calls, ids)
		mu.Unlock()
	}))
	responsive := h.connectAs(t, "7", model.RoleAdmin)
	go func() {
		for {
			if _, _, err := responsive.ReadMessage(); err != nil {
				return
			}
		}
	}()
	h.connectAs(t, "8", model.RoleAdmin) // 不回 pong
	require.Equal(t, 2, h.gw.Stats().TotalConnections)
	conn := h.conn("7")
	require.NotNil(t, conn)

	h.gw.sweep()
	require.Eventually(t, conn.alive.Load, time.Second, 5*time.Millisecond)
	h.gw.sweep()
	require.Eventually(t, func() bool { return h.gw.Stats().TotalConnections == 1 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []string{"7", "8"}, calls[0])
	assert.Equal(t, []string{"7"}, calls[1])
}

func TestGateway_ConnectionsSnapshot(t *testing.T) {
	h := newHarness(t, Options{})
	h.connectAs(t, "7", model.RoleAdmin)
	time.Sleep(5 * time.Millisecond)
	h.connectAs(t, "8", model.RoleAdmin)

	infos := h.gw.Connections()
	require.Len(t, infos, 2)
	assert.Equal(t, "7", infos[0].UserID)
	assert.Equal(t, "8", infos[1].UserID)
	for _, info := range infos {
		assert.Equal(t, "authenticated", info.State)
		assert.Equal(t, model.RoleAdmin, info.Role)
		assert.False(t, info.ConnectedAt.IsZero())
	}
}

func TestGateway_NotifySystemMessage(t *testing.T) {
	h := newHarness(t, Options{})
	admin := h.connectAs(t, "1", model.RoleAdmin)

	assert.Equal(t, 1, h.gw.NotifySystemMessage("maintenance at 22:00", model.RoleAdmin))
	f := readFrame(t, admin)
	assert.Equal(t, FrameSystemMessage, f.Type)
	assert.Equal(t, "maintenance at 22:00", f.Message)
	assert.Equal(t, 0, h.gw.NotifySystemMessage("nobody here", model.RoleEmployerGuest))
}

type blockingVerifier struct {
	inner   TokenVerifier
	release chan struct{}
}

func (b blockingVerifier) Verify(token string) (*auth.Claims, error) {
	<-b.release
	return b.inner.Verify(token)
}

func TestGateway_ConnectTimeout(t *testing.T) {
	mgr := auth.NewManager(auth.Options{Secret: testSecret})
	v := blockingVerifier{inner: mgr, release: make(chan struct{})}
	h := newHarnessWithVerifier(t, Options{ConnectTimeout: 50 * time.Millisecond}, mgr, v)

	c := h.dial(t, h.token(t, "7", model.RoleAdmin))
	code, text := expectClose(t, c)
	close(v.release)

	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "Connection timeout", text)
	require.Eventually(t, func() bool { return h.gw.Stats().ActiveConnections == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.gw.Stats().TotalConnections)
}

func TestGateway_Shutdown(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.connectAs(t, "7", model.RoleAdmin)

	require.NoError(t, h.gw.Shutdown(context.Background()))
	code, _ := expectClose(t, c)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, 0, h.gw.Stats().ActiveConnections)

	late := h.dial(t, h.token(t, "8", model.RoleAdmin))
	code, text := expectClose(t, late)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "Server shutting down", text)
}
