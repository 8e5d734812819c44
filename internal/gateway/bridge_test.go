package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/job-portal/internal/model"
)

func TestBridge_RelaysPublishedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, Options{})
	c := h.connectAs(t, "7", model.RoleAdmin)
	writeJSON(t, c, map[string]string{"type": "subscribe", "channel": "employer_42"})
	require.Equal(t, FrameSubscribed, readFrame(t, c).Type)

	ctx := context.Background()
	stop, err := NewBridge(rdb, h.gw, []string{"admin_*", "employer_*"}, nil).Start(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, stop(ctx)) }()

	payload := `{"type":"new_message","message":{"id":1}}`
	require.NoError(t, rdb.Publish(ctx, "employer_42", payload).Err())
	// 不匹配任何订阅的频道不会送达
	require.NoError(t, rdb.Publish(ctx, "admin_1", `{"type":"noise"}`).Err())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, payload, string(data))

	writeJSON(t, c, map[string]string{"type": "ping"})
	assert.Equal(t, FramePong, readFrame(t, c).Type)
}

func TestBridge_NoPatterns(t *testing.T) {
	h := newHarness(t, Options{})
	stop, err := NewBridge(nil, h.gw, nil, nil).Start(context.Background())
	require.NoError(t, err)
	assert.NoError(t, stop(context.Background()))
}
