package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/nestfest/vote-service/internal/broadcast"
)

const (
	writeWait = 10 * time.Second

	// sendBuffer bounds per-connection backlog. A client that cannot drain
	// this many frames is dropped rather than allowed to stall the hub.
	sendBuffer = 64
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub owns the live sockets and their audience memberships. It is the
// delivery side of the batcher: flushed batches arrive here and fan out to
// every member of the audience.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*client
	audiences map[string]map[string]struct{}

	onDrop func(connectionID string)
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*client),
		audiences: make(map[string]map[string]struct{}),
	}
}

// OnDrop registers a callback invoked when the hub force-drops a slow or
// dead client. Used by the handler to untrack the connection.
func (h *Hub) OnDrop(fn func(connectionID string)) { h.onDrop = fn }

// Register adds a socket and starts its write pump. The caller owns the
// read side.
func (h *Hub) Register(connectionID string, conn *websocket.Conn) {
	c := &client{id: connectionID, conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[connectionID] = c
	h.mu.Unlock()

	go h.writePump(c)
}

// Unregister removes the socket and all its audience memberships.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	c, ok := h.clients[connectionID]
	if ok {
		delete(h.clients, connectionID)
		for _, members := range h.audiences {
			delete(members, connectionID)
		}
	}
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

// Subscribe joins the connection to an audience.
func (h *Hub) Subscribe(connectionID, audience string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connectionID]; !ok {
		return
	}
	members, ok := h.audiences[audience]
	if !ok {
		members = make(map[string]struct{})
		h.audiences[audience] = members
	}
	members[connectionID] = struct{}{}
}

// Unsubscribe removes the connection from an audience.
func (h *Hub) Unsubscribe(connectionID, audience string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.audiences[audience]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.audiences, audience)
		}
	}
}

// SendBatch delivers one flushed batch to every member of the audience.
// Implements the batcher's Sender.
func (h *Hub) SendBatch(audience string, updates []broadcast.Update) {
	body, err := json.Marshal(batchEnvelope{
		Type:      "batch_update",
		Updates:   updates,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		zlog.Error().Err(err).Str("audience", audience).Msg("batch marshal failed")
		return
	}

	h.mu.RLock()
	members := h.audiences[audience]
	targets := make([]*client, 0, len(members))
	for id := range members {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.push(c, body)
	}
}

// SendTo delivers one message to a single connection, for vote acks and
// rejections.
func (h *Hub) SendTo(connectionID string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		zlog.Error().Err(err).Msg("message marshal failed")
		return
	}

	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.push(c, body)
}

// Drop force-closes a connection, e.g. when the stale sweep removed it
// from the registry.
func (h *Hub) Drop(connectionID string) {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) push(c *client, body []byte) {
	defer func() {
		// send on a closed channel races with Unregister; losing a frame to
		// a departing client is acceptable
		_ = recover()
	}()
	select {
	case c.send <- body:
	default:
		zlog.Warn().Str("connection_id", c.id).Msg("slow consumer dropped")
		go h.dropSlow(c.id)
	}
}

func (h *Hub) dropSlow(connectionID string) {
	h.Unregister(connectionID)
	if h.onDrop != nil {
		h.onDrop(connectionID)
	}
}

func (h *Hub) writePump(c *client) {
	defer func() { _ = c.conn.Close() }()
	for body := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
