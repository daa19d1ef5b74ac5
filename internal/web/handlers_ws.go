package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"hue-go-bridge/internal/events"

	"nhooyr.io/websocket"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsFrame is the document sent for each event. Seq increases by one per
// event the hub handles, so a filtered client sees gaps and an evicted one
// can tell where it left off.
type wsFrame struct {
	Seq      uint64 `json:"seq"`
	Resource string `json:"resource"`
	events.Event
}

// wsFilter selects the events a client receives. A nil set matches
// everything.
type wsFilter struct {
	types     map[string]bool
	resources map[string]bool
	id        string
}

// parseFilter reads ?types=, ?resources= and ?id= from a ws request, e.g.
// /ws?resources=lights,groups&id=3.
func parseFilter(q url.Values) wsFilter {
	return wsFilter{
		types:     parseList(q.Get("types")),
		resources: parseList(q.Get("resources")),
		id:        strings.TrimSpace(q.Get("id")),
	}
}

func (f wsFilter) match(ev events.Event, resource string) bool {
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	if f.resources != nil && !f.resources[resource] {
		return false
	}
	return f.id == "" || f.id == ev.ID
}

func parseList(list string) map[string]bool {
	var set map[string]bool
	for _, v := range strings.Split(list, ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if set == nil {
			set = make(map[string]bool)
		}
		set[v] = true
	}
	return set
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter wsFilter
	remote string
}

// WSHub fans bus events out to WebSocket clients.
type WSHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	seq     uint64 // owned by Run

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan events.Event

	done     chan struct{}
	stopOnce sync.Once
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		logger:     logger,
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan events.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop, closing every client.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "remote", c.remote, "total", total)
		case c := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(c)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "remote", c.remote, "total", total)
		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *WSHub) fanOut(ev events.Event) {
	h.seq++
	frame := wsFrame{Seq: h.seq, Resource: events.Resource(ev.Type), Event: ev}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("ws marshal", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.filter.match(ev, frame.Resource) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
			h.logger.Warn("ws client evicted", "remote", c.remote, "seq", frame.Seq)
		}
	}
}

// dropLocked forgets c and closes its send queue, which ends its writer.
func (h *WSHub) dropLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Stop shuts the hub down. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues ev for delivery. It never blocks the bus.
func (h *WSHub) Broadcast(ev events.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast queue full, event dropped", "type", ev.Type, "id", ev.ID)
	}
}

// handleWS streams bus events to the client as wsFrame text messages.
// Client messages are not accepted; the connection is closed if one
// arrives.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4096)

	c := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		filter: parseFilter(r.URL.Query()),
		remote: r.RemoteAddr,
	}
	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	ctx := conn.CloseRead(r.Context())
	s.wsWrite(ctx, c)

	select {
	case s.wsHub.unregister <- c:
	case <-s.wsHub.done:
	}
}

// wsWrite sends queued frames and keepalive pings until the hub closes the
// queue or the connection ends.
func (s *Server) wsWrite(ctx context.Context, c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "remote", c.remote, "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
