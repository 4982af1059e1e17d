package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
)

func envelope(t *testing.T, marketID string, seq int64) []byte {
	t.Helper()
	env, err := domain.NewEnvelope(marketID, seq, time.Now().UTC(), domain.ChapterAdvanced{Chapter: int(seq)})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func start(t *testing.T, ctx context.Context, hub *Hub) {
	t.Helper()
	go func() { _ = hub.Run(ctx) }()
	select {
	case <-hub.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never subscribed to the bus")
	}
}

func TestHubRoutesByMarket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewEventBus()
	hub := NewHub(bus, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{Chapter: func() int { return 4 }})
	start(t, ctx, hub)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	hello := read(t, all)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, float64(4), hello["payload"].(map[string]any)["chapter"])

	one := dial(t, srv, "?markets=m2")
	read(t, one)

	// Registration happens on the hub goroutine; wait until both are in.
	require.Eventually(t, func() bool { return hub.clientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelMarkets, envelope(t, "m1", 1)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelMarkets, envelope(t, "m2", 1)))

	assert.Equal(t, "m1", read(t, all)["market_id"])
	assert.Equal(t, "m2", read(t, all)["market_id"])
	assert.Equal(t, "m2", read(t, one)["market_id"], "m1 is filtered out")
}

func TestHubReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewEventBus()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamMarketEvents, envelope(t, "m1", i)))
	}
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamMarketEvents, envelope(t, "m9", 1)))

	hub := NewHub(bus, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{})
	start(t, ctx, hub)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv, "?markets=m1")
	read(t, conn)
	require.NoError(t, conn.WriteJSON(request{Action: "replay", LastID: "0", Count: 10}))
	for i := 1; i <= 3; i++ {
		msg := read(t, conn)
		assert.Equal(t, "m1", msg["market_id"])
		assert.Equal(t, float64(i), msg["seq"])
	}
}

func TestHubSubscribeChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewEventBus()
	hub := NewHub(bus, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{})
	start(t, ctx, hub)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv, "?markets=m1")
	subs := read(t, conn)["payload"].(map[string]any)["subscriptions"]
	assert.Equal(t, []any{"market:m1"}, subs)

	require.NoError(t, conn.WriteJSON(request{Action: "subscribe", Channels: []string{"market:m3", "bogus"}}))
	require.NoError(t, conn.WriteJSON(request{Action: "unsubscribe", Channels: []string{"market:m1"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, m3 := hub.byChannel["market:m3"]
		_, m1 := hub.byChannel["market:m1"]
		_, bogus := hub.byChannel["bogus"]
		return m3 && !m1 && !bogus
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelMarkets, envelope(t, "m1", 1)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelMarkets, envelope(t, "m3", 1)))
	assert.Equal(t, "m3", read(t, conn)["market_id"])
}

func TestHubShutdownDisconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(memory.NewEventBus(), slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{})
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv, "")
	read(t, conn)
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, hub.clientCount())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://reader.example/"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "non-browser clients send no origin")

	req.Header.Set("Origin", "https://Reader.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
}
