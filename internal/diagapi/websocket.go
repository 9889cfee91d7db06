package diagapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsSendBuffer = 32
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
	wsMaxMessage = 1 << 12
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is not meaningful for a LAN diagnostics socket
	// with no browser session state; the admin endpoints it feeds
	// alongside are the ones that actually gate access.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsMessage is the envelope every broadcast event is wrapped in.
type wsMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// wsClient is one connected diagnostics feed subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans link events and com-object updates out to every connected
// WebSocket client.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  Logger
}

func newHub(logger Logger) *hub {
	return &hub{clients: make(map[*wsClient]struct{}), logger: logger}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// unregister removes c from the hub. Only the caller that actually
// removed it closes its send channel, so a concurrent broadcast never
// sends on a channel that is about to be closed twice.
func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		close(c.send)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// Broadcast sends eventType/payload to every connected client. Slow
// clients that cannot keep up with their buffer are dropped rather
// than allowed to block the event source.
func (h *hub) Broadcast(eventType string, payload any) {
	msg := wsMessage{Type: eventType, Timestamp: time.Now().UTC().Format(time.RFC3339), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket broadcast", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			go h.unregister(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.hub.register(client)

	go client.readPump(s.hub)
	go client.writePump()
}

// readPump discards inbound messages (this feed is one-way) but keeps
// the read deadline alive so disconnects are noticed promptly.
func (c *wsClient) readPump(h *hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
