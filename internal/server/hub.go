package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

const (
	// DefaultIdlePing is how long a viewer may go without a message before
	// the hub sends a ping event.
	DefaultIdlePing = 30 * time.Second

	writeWait  = 10 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans events out to connected WebSocket viewers. Every viewer has its
// own buffered queue and writer goroutine; a viewer whose queue is full is
// dropped rather than stalling Broadcast.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	snapshot func() fleet.Snapshot
	now      func() time.Time
	idlePing time.Duration
	log      logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// NewHub creates a hub. snapshot provides the state sent to each new viewer.
func NewHub(snapshot func() fleet.Snapshot, log logger.Logger) *Hub {
	if log == nil {
		log = logger.Noop()
	}
	return &Hub{
		clients:  make(map[*client]struct{}),
		snapshot: snapshot,
		now:      time.Now,
		idlePing: DefaultIdlePing,
		log:      log,
	}
}

// Broadcast sends ev to every viewer. It never blocks.
func (h *Hub) Broadcast(ev fleet.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("websocket: can't encode %s event: %v", ev.Event, err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket: dropping slow client %s", c.conn.RemoteAddr())
		h.remove(c)
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// HandleWebSocket upgrades the request and serves the viewer until it
// disconnects. The first message is always the connected event.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket: upgrade failed: %v", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	// Snapshot and registration happen under one lock so a concurrent
	// Broadcast lands either in the snapshot or after it in the queue.
	h.mu.Lock()
	hello, err := json.Marshal(fleet.NewEvent(fleet.EventConnected, h.snapshot(), h.now()))
	if err != nil {
		h.mu.Unlock()
		h.log.Error("websocket: can't encode connected event: %v", err)
		_ = conn.Close()
		return
	}
	cl.send <- hello
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket connected (%d total)", n)

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump answers "ping" text frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read: %v", err)
			}
			return
		}
		if string(data) == "ping" {
			select {
			case c.send <- []byte("pong"):
			case <-c.done:
				return
			default:
			}
		}
	}
}

// writePump is the only writer on c.conn. After idlePing without traffic it
// sends a ping event to keep proxies from closing the connection.
func (h *Hub) writePump(c *client) {
	idle := time.NewTimer(h.idlePing)
	defer idle.Stop()

	for {
		var msg []byte
		select {
		case <-c.done:
			return
		case msg = <-c.send:
		case <-idle.C:
			ping, _ := json.Marshal(fleet.NewEvent(fleet.EventPing, nil, h.now()))
			msg = ping
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("websocket write: %v", err)
			h.remove(c)
			return
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(h.idlePing)
	}
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		h.log.Info("websocket disconnected (%d total)", n)
	})
}
