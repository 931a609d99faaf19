package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spotdex/internal/lifecycle"
	"spotdex/internal/orchestrator"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// defaultPingInterval is the default interval to send ping messages.
	defaultPingInterval = 20 * time.Second
	// clientBuffer is the number of queued messages per client before it is dropped.
	clientBuffer = 32
)

// Message types on the stream.
const (
	MessageSession      = "session"
	MessageOrder        = "order"
	MessageNotification = "notification"
)

// Message is one frame pushed to stream clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HubConfig holds configuration for the push stream.
type HubConfig struct {
	// PingInterval is the interval between ping messages.
	PingInterval time.Duration
	// Welcome returns the messages sent to a client right after it connects. Optional.
	Welcome func() []Message
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Hub pushes session snapshots, order snapshots and notifications to every
// connected WebSocket client. It implements orchestrator.Notifier.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	welcome func() []Message
	clients map[uuid.UUID]*client
	closed  bool
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub with no clients.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}

	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is served from a different origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		welcome: cfg.Welcome,
		clients: make(map[uuid.UUID]*client),
	}
}

// SetWelcome replaces the function producing each new client's first messages.
func (h *Hub) SetWelcome(fn func() []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.welcome = fn
}

// SnapshotMessages renders a session and an order snapshot as stream messages.
func SnapshotMessages(session orchestrator.Snapshot, order lifecycle.Snapshot) []Message {
	return []Message{
		{Type: MessageSession, Data: newSessionResponse(session)},
		{Type: MessageOrder, Data: newOrderResponse(order)},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify broadcasts a notification.
func (h *Hub) Notify(n orchestrator.Notification) {
	h.Broadcast(Message{Type: MessageNotification, Data: n})
}

// Broadcast encodes msg once and queues it for every client. Clients whose
// queue is full are disconnected.
func (h *Hub) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode stream message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("stream client too slow, dropping", zap.String("client", id.String()))
			delete(h.clients, id)
			c.close()
		}
	}
}

// Run forwards session and order snapshots to clients until ctx ends, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, sessions <-chan orchestrator.Snapshot, orders <-chan lifecycle.Snapshot) error {
	defer h.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-sessions:
			if !ok {
				sessions = nil
				continue
			}
			h.Broadcast(Message{Type: MessageSession, Data: newSessionResponse(s)})
		case o, ok := <-orders:
			if !ok {
				orders = nil
				continue
			}
			h.Broadcast(Message{Type: MessageOrder, Data: newOrderResponse(o)})
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	welcome := h.welcome
	h.mu.Unlock()

	// Welcome frames are queued before registration so they precede broadcasts.
	if welcome != nil {
		for _, msg := range welcome() {
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case c.send <- payload:
			default:
			}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Info("stream client connected", zap.String("client", c.id.String()))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards inbound frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	pongWait := 2 * h.config.PingInterval
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("stream read error", zap.String("client", c.id.String()), zap.Error(err))
			}
			return
		}
	}
}

// writeLoop drains the client queue and sends periodic pings.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Warn("stream write error", zap.String("client", c.id.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Warn("ping error", zap.String("client", c.id.String()), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Info("stream client disconnected", zap.String("client", c.id.String()))
	}
}
