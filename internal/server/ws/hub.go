// Package ws streams committed market events to WebSocket clients.
//
// A client subscribes either to "markets" (every event) or to individual
// "market:{id}" channels, and may ask for a replay of the durable event
// stream to catch up after a reconnect.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Config carries hub options.
type Config struct {
	// Chapter reports the current story chapter in the hello frame.
	Chapter func() int
	// Origins restricts browser origins; empty or "*" admits all.
	Origins   []string
	StartedAt time.Time
}

// Hub bridges the market event bus to connected clients.
type Hub struct {
	bus      domain.EventBus
	logger   *slog.Logger
	chapter  func() int
	started  time.Time
	upgrader websocket.Upgrader
	// subscribed is closed once Run is receiving from the bus.
	subscribed chan struct{}

	mu     sync.RWMutex
	closed bool
	// byChannel indexes clients by the channels they follow.
	byChannel map[string]map[*client]struct{}
	clients   map[*client]struct{}
}

// NewHub creates a hub over bus. Run must be started for events to flow.
func NewHub(bus domain.EventBus, logger *slog.Logger, cfg Config) *Hub {
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	h := &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		chapter:    cfg.Chapter,
		started:    started,
		byChannel:  make(map[string]map[*client]struct{}),
		clients:    make(map[*client]struct{}),
		subscribed: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[strings.ToLower(origin)]
	}
}

// Run forwards bus events to subscribers until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return err
	}
	close(h.subscribed)
	h.logger.InfoContext(ctx, "ws: hub running", slog.String("channel", domain.ChannelMarkets))

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				events = nil
				continue
			}
			marketID, ok := marketOf(data)
			if !ok {
				h.logger.Warn("ws: dropping malformed event")
				continue
			}
			h.broadcast(domain.MarketChannel(marketID), data)
		}
	}
}

// HandleWS upgrades the request and registers the client. ?markets=a,b
// limits the initial subscription; without it the client follows all
// markets.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	channels := []string{domain.ChannelMarkets}
	if ids := r.URL.Query().Get("markets"); ids != "" {
		channels = channels[:0]
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				channels = append(channels, domain.MarketChannel(id))
			}
		}
	}
	if !h.add(c, channels) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	c.hello()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *client, channels []string) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	for _, ch := range channels {
		h.follow(c, ch)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client connected", slog.Int("clients", total))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for ch := range c.subs {
		h.unfollow(c, ch)
	}
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client disconnected", slog.Int("clients", total))
}

// follow and unfollow require h.mu held for writing.
func (h *Hub) follow(c *client, channel string) {
	set := h.byChannel[channel]
	if set == nil {
		set = make(map[*client]struct{})
		h.byChannel[channel] = set
	}
	set[c] = struct{}{}
	c.subs[channel] = struct{}{}
}

func (h *Hub) unfollow(c *client, channel string) {
	if set := h.byChannel[channel]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byChannel, channel)
		}
	}
	delete(c.subs, channel)
}

// broadcast delivers data to followers of channel and of the firehose. A
// client whose buffer is full misses the frame and can replay it.
func (h *Hub) broadcast(channel string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*client]struct{})
	for _, set := range []map[*client]struct{}{h.byChannel[domain.ChannelMarkets], h.byChannel[channel]} {
		for c := range set {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- data:
			default:
				h.logger.Warn("ws: slow client missed an event", slog.String("channel", channel))
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
	h.byChannel = make(map[string]map[*client]struct{})
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// marketOf extracts the market ID of an encoded envelope.
func marketOf(data []byte) (string, bool) {
	var env struct {
		MarketID string `json:"market_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.MarketID == "" {
		return "", false
	}
	return env.MarketID, true
}
