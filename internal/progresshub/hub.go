// Package progresshub is the optional live-progress relay (SPEC_FULL.md
// §4.5 ADD): a small websocket hub that re-publishes each conversion's
// progress record to connected subscribers. It is additive to the
// synchronous on_progress_received callback — a Hub is just one possible
// subscriber hung off that callback, never a replacement for it.
//
// Grounded on AndySze-klipper's pkg/moonraker.Server: a subscriber map
// guarded by a mutex, a websocket.Upgrader, and a per-client writer
// goroutine draining a buffered send channel, generalized here from
// printer-object status push to arc-welder progress push.
package progresshub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atsju/ArcWelderLib/internal/engine"
)

// Hub re-publishes Progress records to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  int64

	// cancelRequested is set when a subscriber sends a "cancel" control
	// message; CancelRequested lets the CLI fold that into onProgress's
	// boolean return alongside the caller's own cancellation logic.
	cancelRequested atomic.Bool
}

// New returns an empty Hub ready to accept connections.
func New() *Hub {
	return &Hub{
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and registers a new subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("progresshub: upgrade error: %v", err)
		return
	}

	id := atomic.AddInt64(&h.nextID, 1)
	c := &client{id: id, conn: conn, hub: h, sendCh: make(chan any, 16), done: make(chan struct{})}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Broadcast pushes p as JSON to every connected subscriber. A message to a
// client whose send buffer is full is dropped rather than allowed to
// back-pressure the converter; the client itself stays registered until
// its connection fails.
func (h *Hub) Broadcast(p engine.Progress) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.send(p)
	}
}

// CancelRequested reports whether any subscriber has asked the running
// conversion to stop. The CLI ANDs this into onProgress's return value.
func (h *Hub) CancelRequested() bool { return h.cancelRequested.Load() }

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

type controlMessage struct {
	Type string `json:"type"`
}

type client struct {
	id     int64
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

func (c *client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		log.Printf("progresshub: dropping message to client %d (channel full)", c.id)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "cancel" {
			c.hub.cancelRequested.Store(true)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
