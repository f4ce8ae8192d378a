package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/telemetry"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// WSManager pushes dashboard views to browsers. It implements
// ports.ViewPublisher; a client that cannot keep up is disconnected rather
// than slowing the publisher.
type WSManager struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	latest  []byte
}

// NewWSManager creates a manager accepting connections from the given
// origins. Requests without an Origin header are always accepted; "*"
// accepts any origin.
func NewWSManager(allowedOrigins []string, logger *slog.Logger) *WSManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &WSManager{
		clients: make(map[*wsClient]struct{}),
		logger:  logger.With("component", "websocket"),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				return true
			}
			m.logger.Warn("WebSocket: Rejected origin", "origin", origin)
			return false
		},
	}
	return m
}

// HandleWebSocket upgrades the request and sends the latest view right away.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("Upgrade error", "error", err)
		return
	}

	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	m.mu.Lock()
	m.clients[c] = struct{}{}
	if m.latest != nil {
		c.send <- m.latest
	}
	count := len(m.clients)
	m.mu.Unlock()

	telemetry.WebSocketClients.Inc()
	m.logger.Info("WebSocket connected", "client", c.id, "clients", count)

	go m.writePump(c)
	go m.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (m *WSManager) readPump(c *wsClient) {
	defer m.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *WSManager) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			m.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (m *WSManager) remove(c *wsClient) {
	m.mu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	m.mu.Unlock()

	if ok {
		c.close()
		telemetry.WebSocketClients.Dec()
		m.logger.Info("WebSocket disconnected", "client", c.id)
	}
}

// PublishView implements ports.ViewPublisher.
func (m *WSManager) PublishView(view domain.DashboardView) {
	m.broadcastMessage(WSMessage{Type: "dashboard", Payload: view})
}

// ClientCount is the number of connected clients.
func (m *WSManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close disconnects every client.
func (m *WSManager) Close() {
	m.mu.Lock()
	clients := make([]*wsClient, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		m.remove(c)
	}
}

func (m *WSManager) broadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("JSON marshal error", "error", err)
		return
	}

	var slow []*wsClient
	m.mu.Lock()
	m.latest = data
	for c := range m.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	m.mu.Unlock()

	for _, c := range slow {
		m.logger.Warn("Dropping slow WebSocket client", "client", c.id)
		m.remove(c)
	}
}
