package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound buffer. A client that falls
	// this far behind misses events.
	wsSendBufferSize = 256

	wsMaxMessageSize = 4096
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
)

// WSMessage is a frame sent to or from a stream client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Kinds []observe.Kind `json:"kinds"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is read-only and bound to localhost by default.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub streams relay events to connected WebSocket clients. It is an
// observe.Recorder: add it to the recorder chain and every event is
// broadcast to the clients subscribed to its kind.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	kinds map[observe.Kind]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "event-stream"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Record implements observe.Recorder. It never blocks on a client.
func (h *Hub) Record(_ context.Context, e observe.Event) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(e.Kind),
		Timestamp: e.At.Format(time.RFC3339Nano),
		Payload:   e,
	})
	if err != nil {
		h.logger.Error("failed to marshal event for stream", "error", err)
		return
	}

	for _, c := range clients {
		if c.wants(e.Kind) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("stream client connected", "clients", n)
	return true
}

// unregister removes c. Only the caller that removes it closes c.send.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("stream client disconnected", "clients", n)
	}
}

// parseKinds reads a comma-separated kind list. Empty means every kind.
func parseKinds(v string) ([]observe.Kind, error) {
	if strings.TrimSpace(v) == "" {
		return observe.Kinds(), nil
	}
	var kinds []observe.Kind
	for _, part := range strings.Split(v, ",") {
		k := observe.Kind(strings.TrimSpace(part))
		if !k.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// handleEventStream upgrades to a WebSocket carrying live events. The
// optional kinds query parameter selects the initial subscription.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream is disabled")
		return
	}
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, wsSendBufferSize),
		kinds: make(map[observe.Kind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		c.kinds[k] = struct{}{}
	}
	if !s.hub.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "error", err)
			}
			return
		}
		//nolint:errcheck // as above
		c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
		c.handleMessage(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if !ok {
				//nolint:errcheck // peer may be gone
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription adds or removes kinds from the client's subscription.
func (c *wsClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}
	for _, k := range sub.Kinds {
		if !k.Valid() {
			c.sendError(msg.ID, fmt.Sprintf("unknown event kind %q", k))
			return
		}
	}

	c.mu.Lock()
	for _, k := range sub.Kinds {
		if msg.Type == WSTypeSubscribe {
			c.kinds[k] = struct{}{}
		} else {
			delete(c.kinds, k)
		}
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"kinds": c.subscribed()})
}

func (c *wsClient) wants(k observe.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.kinds[k]
	return ok
}

// subscribed lists the client's kinds in Kinds order.
func (c *wsClient) subscribed() []observe.Kind {
	out := []observe.Kind{}
	for _, k := range observe.Kinds() {
		if c.wants(k) {
			out = append(out, k)
		}
	}
	return out
}

// trySend queues data unless the buffer is full or the client is gone.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *wsClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
