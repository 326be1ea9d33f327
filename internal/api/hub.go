package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf      = 32
	defaultBroadcastBuf = 128
)

// Hub tracks the connected status stream clients. A client whose send buffer
// is full when a frame is broadcast is disconnected.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

// HubConfig sizes the hub queues; zero values select defaults.
type HubConfig struct {
	SendBuf      int
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("api: ws hub starting")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("api: ws hub stopping (context canceled)")
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("api: ws client registered", "id", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				if !c.trySend(msg) {
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("api: ws client disconnected", "id", c.id, "reason", reason, "clients", n)
	}
}

// BroadcastBytes queues a serialized frame for every client. It never
// blocks; a full queue drops the frame.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("api: ws broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// Client is one status stream connection.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	remoteAddr string
	logger     *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a client with a buffered send channel and a fresh id.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := defaultSendBuf
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		id:         uuid.NewString(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// trySend queues msg without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *Client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the connection and signals writePump to exit. Safe to call
// more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.send)
}

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("api: ws pump exiting (close)", "pump", pump, "id", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Debug("api: ws pump exiting", "pump", pump, "id", c.id, "err", err)
}

// writePump writes queued frames and keepalive pings. It exits on write
// error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards inbound frames to process control frames and detect
// disconnects, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}
