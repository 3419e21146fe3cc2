package upload

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connection is one websocket client following its owner's uploads.
type connection struct {
	owner string
	conn  *websocket.Conn
	send  chan []byte
	// when non-empty only these upload ids are forwarded
	uploads map[string]bool
}

// Hub fans upload events out to the websocket clients of each owner.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]bool // owner -> clients
}

func NewHub() *Hub {
	return &Hub{connections: make(map[string]map[*connection]bool)}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.owner]
	if !ok {
		set = make(map[*connection]bool)
		h.connections[c.owner] = set
	}
	set[c] = true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[c.owner]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.connections, c.owner)
	}
	close(c.send)
}

// Clients returns how many connections follow owner.
func (h *Hub) Clients(owner OwnerRef) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[owner.String()])
}

// Publish implements Notifier. Anonymous uploads have no audience.
func (h *Hub) Publish(e Event) {
	owner := e.Owner()
	if owner == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections[owner.String()] {
		if len(c.uploads) > 0 && !c.uploads[e.Upload.ID] {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client
		}
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, owner OwnerRef) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.serveConn(conn, owner)
}

func (h *Hub) serveConn(conn *websocket.Conn, owner OwnerRef) {
	c := &connection{
		owner:   owner.String(),
		conn:    conn,
		send:    make(chan []byte, 64),
		uploads: make(map[string]bool),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd struct {
			Type     string `json:"type"`
			UploadID string `json:"upload_id"`
		}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "subscribe":
			h.mu.Lock()
			c.uploads[cmd.UploadID] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.uploads, cmd.UploadID)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
