package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http/httptest"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/job-portal/internal/auth"
	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/model"
)

type frame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type client struct {
	ws      *websocket.Conn
	latency chan time.Duration
}

func main() {
	ctx := context.Background()

	clients := envInt("CLIENTS", 80)
	events := envInt("EVENTS", 200)
	secret := envStr("JWT_SECRET", "wsbench-secret")
	channel := envStr("CHANNEL", "employer_1")

	// 未指定 WS_URL/REDIS_ADDR 时在进程内起网关 + miniredis
	wsURL := os.Getenv("WS_URL")
	redisAddr := os.Getenv("REDIS_ADDR")
	if wsURL == "" {
		mr := must(miniredis.Run())
		defer mr.Close()
		redisAddr = mr.Addr()

		tokens := auth.NewManager(auth.Options{Secret: secret})
		gw := gateway.New(gateway.Options{MaxConnections: clients + 10}, tokens, zap.NewNop())
		gw.Start()
		defer func() { _ = gw.Shutdown(ctx) }()

		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		stop := must(gateway.NewBridge(rdb, gw, []string{"employer_*", "admin_*"}, zap.NewNop()).Start(ctx))
		defer func() { _ = stop(ctx) }()

		srv := httptest.NewServer(gw)
		defer srv.Close()
		wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
	}

	tokens := auth.NewManager(auth.Options{Secret: secret})

	fmt.Printf("Connecting %d clients to %s...\n", clients, wsURL)
	conns := make([]*client, 0, clients)
	connect := make([]time.Duration, 0, clients)
	for i := 0; i < clients; i++ {
		tok := must(tokens.IssueAccess(strconv.Itoa(i+1), fmt.Sprintf("bench%d@portal.local", i), model.RoleAdmin))
		start := time.Now()
		ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+tok, nil)
		mustDo(err)
		var ack frame
		mustDo(ws.ReadJSON(&ack))
		if ack.Type != "connection" {
			panic("unexpected first frame: " + ack.Type)
		}
		connect = append(connect, time.Since(start))

		mustDo(ws.WriteJSON(map[string]string{"type": "subscribe", "channel": channel}))
		var sub frame
		mustDo(ws.ReadJSON(&sub))
		conns = append(conns, &client{ws: ws, latency: make(chan time.Duration, events)})
	}
	defer func() {
		for _, c := range conns {
			_ = c.ws.Close()
		}
	}()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			got := 0
			_ = c.ws.SetReadDeadline(time.Now().Add(30 * time.Second))
			for got < events {
				var f frame
				if err := c.ws.ReadJSON(&f); err != nil {
					return
				}
				if f.Type != "system_message" || f.Timestamp == 0 {
					continue
				}
				c.latency <- time.Since(time.Unix(0, f.Timestamp))
				got++
			}
		}(c)
	}

	fmt.Print("  Publishing events...")
	for i := 0; i < events; i++ {
		payload := must(json.Marshal(frame{Type: "system_message", Channel: channel, Timestamp: time.Now().UnixNano()}))
		mustDo(rdb.Publish(ctx, channel, payload).Err())
		time.Sleep(2 * time.Millisecond)
	}
	fmt.Println(" done")
	wg.Wait()

	delivery := make([]time.Duration, 0, clients*events)
	for _, c := range conns {
		close(c.latency)
		for d := range c.latency {
			delivery = append(delivery, d)
		}
	}

	fmt.Printf("\nWebSocket gateway (%d clients, %d events on %s)\n", clients, events, channel)
	fmt.Printf("%-18s avg=%v p95=%v p99=%v n=%d\n", "Handshake+ack", avg(connect), pct(connect, 0.95), pct(connect, 0.99), len(connect))
	fmt.Printf("%-18s avg=%v p95=%v p99=%v n=%d lost=%d\n", "Pub/sub delivery", avg(delivery), pct(delivery, 0.95), pct(delivery, 0.99),
		len(delivery), clients*events-len(delivery))
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
