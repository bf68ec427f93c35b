package feed

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// DefaultClientBuffer is the per-client send queue length.
	DefaultClientBuffer = 256
	// DefaultQueueSize is the length of the hub's inbound queue.
	DefaultQueueSize = 4096
)

var clientIDs atomic.Uint64

// Hub fans messages out to websocket clients. Publishing never blocks: a full inbound
// queue drops the message and a client whose own queue is full is disconnected.
type Hub struct {
	log          zerolog.Logger
	clientBuffer int
	queue        chan []byte

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns a hub whose clients buffer up to clientBuffer messages each.
func NewHub(clientBuffer int) *Hub {
	if clientBuffer <= 0 {
		clientBuffer = DefaultClientBuffer
	}
	return &Hub{
		log:          logging.Component("feed-hub"),
		clientBuffer: clientBuffer,
		queue:        make(chan []byte, DefaultQueueSize),
		clients:      make(map[*client]struct{}),
	}
}

// Handler returns a data source Handler that publishes every event.
func (h *Hub) Handler() vitalink.Handler {
	return func(ev vitalink.Event) { h.Publish(FromEvent(ev)) }
}

// Publish queues m for broadcast. It reports false if m was dropped.
func (h *Hub) Publish(m Message) bool {
	b, err := m.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", m.Type).Msg("encode feed message")
		return false
	}
	select {
	case h.queue <- b:
		return true
	default:
		metrics.FeedDropped.Inc()
		return false
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts queued messages until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			h.log.Info().Int("clients_closed", n).Msg("feed hub stopped")
			return ctx.Err()
		case b := <-h.queue:
			h.broadcast(b)
		}
	}
}

// String names the hub for the supervisor.
func (h *Hub) String() string { return "feed-hub" }

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error { return h.Run(ctx) }

func (h *Hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Deliver in connection order.
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, c := range clients {
		select {
		case c.send <- b:
		default:
			metrics.FeedDropped.Inc()
			h.log.Warn().Uint64("client", c.id).Msg("slow feed client dropped")
			h.removeLocked(c)
		}
	}
}

// add registers conn. first, if not nil, is delivered ahead of any broadcast.
func (h *Hub) add(conn *websocket.Conn, first []byte) *client {
	c := &client{
		id:   clientIDs.Add(1),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.clientBuffer+1),
	}
	if first != nil {
		c.send <- first
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.FeedClients.Inc()
	h.log.Info().Uint64("client", c.id).Int("total_clients", n).Msg("feed client connected")
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.FeedClients.Dec()
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		h.removeLocked(c)
	}
	return n
}

type client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards client input and notices when the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Uint64("client", c.id).Msg("feed client read")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}
