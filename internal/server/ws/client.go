package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxRequestSize = 4096
	sendBuffer     = 256
	maxReplay      = 500
)

// request is a client frame:
//
//	{"action":"subscribe","channels":["market:m1"]}
//	{"action":"unsubscribe","channels":["markets"]}
//	{"action":"replay","last_id":"0","count":100}
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
	LastID   string   `json:"last_id,omitempty"`
	Count    int      `json:"count,omitempty"`
}

// hello is the first frame on every connection.
type hello struct {
	Type    string       `json:"type"`
	Payload helloPayload `json:"payload"`
}

type helloPayload struct {
	UptimeSeconds int64    `json:"uptime_seconds"`
	Chapter       *int     `json:"chapter,omitempty"`
	Subscriptions []string `json:"subscriptions"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// subs is guarded by hub.mu.
	subs map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
}

func (c *client) hello() {
	msg := hello{Type: "hello", Payload: helloPayload{
		UptimeSeconds: max(0, int64(time.Since(c.hub.started).Seconds())),
		Subscriptions: c.channels(),
	}}
	if c.hub.chapter != nil {
		ch := c.hub.chapter()
		msg.Payload.Chapter = &ch
	}
	c.enqueue(msg)
}

func (c *client) enqueue(v any) {
	if data, err := json.Marshal(v); err == nil {
		c.push(data)
	}
}

// push queues data unless the client has been removed or its buffer is
// full. Holding hub.mu keeps send open for the duration.
func (c *client) push(data []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var req request
		if json.Unmarshal(raw, &req) != nil {
			continue
		}
		switch req.Action {
		case "subscribe":
			c.subscribe(req.Channels, true)
		case "unsubscribe":
			c.subscribe(req.Channels, false)
		case "replay":
			c.replay(req.LastID, req.Count)
		}
	}
}

func (c *client) subscribe(channels []string, on bool) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; !live {
		return
	}
	for _, ch := range channels {
		if ch != domain.ChannelMarkets && !strings.HasPrefix(ch, domain.ChannelMarketPrefix) {
			continue
		}
		if on {
			h.follow(c, ch)
		} else {
			h.unfollow(c, ch)
		}
	}
}

// replay resends stream entries after lastID that match the client's
// subscriptions.
func (c *client) replay(lastID string, count int) {
	if count <= 0 || count > maxReplay {
		count = maxReplay
	}
	if lastID == "" {
		lastID = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamMarketEvents, lastID, count)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		id, ok := marketOf(m.Payload)
		if !ok || !c.follows(domain.MarketChannel(id)) {
			continue
		}
		if !c.push(m.Payload) {
			return
		}
	}
}

func (c *client) follows(channel string) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	_, all := c.subs[domain.ChannelMarkets]
	_, one := c.subs[channel]
	return all || one
}

func (c *client) channels() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
