package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/reflector"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 32
	broadcastDepth = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status feed is read-only public data
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one WebSocket subscriber
type wsClient struct {
	conn     *websocket.Conn
	messages chan []byte
}

// Hub fans reflector events out to WebSocket subscribers. It
// implements reflector.EventSink; Publish never blocks.
type Hub struct {
	log        *logger.Logger
	clients    map[*wsClient]bool
	broadcast  chan reflector.Event
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewHub creates an event hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log.WithComponent("web.hub"),
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan reflector.Event, broadcastDepth),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Publish implements reflector.EventSink. Events are dropped when the
// hub falls behind; the relay path never waits for dashboards.
func (h *Hub) Publish(e reflector.Event) {
	select {
	case h.broadcast <- e:
	default:
	}
}

// Run dispatches events to subscribers until the context is canceled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.drop(c)

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.log.Warn("Failed to marshal event", logger.Error(err))
				continue
			}
			h.mu.RLock()
			subscribers := make([]*wsClient, 0, len(h.clients))
			for c := range h.clients {
				subscribers = append(subscribers, c)
			}
			h.mu.RUnlock()
			for _, c := range subscribers {
				select {
				case c.messages <- data:
				default:
					// Slow subscriber: disconnect instead of queueing
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.messages)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.messages)
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler returns the WebSocket upgrade handler
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("WebSocket upgrade failed", logger.Error(err))
			return
		}

		c := &wsClient{conn: conn, messages: make(chan []byte, clientBuffer)}
		h.register <- c

		go c.writePump()
		go c.readPump(h)
	})
}

// writePump delivers hub messages to the socket
func (c *wsClient) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.messages {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound messages and detects the close
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
