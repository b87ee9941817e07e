package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MysteriousWolf/southpool-hacs/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans derived view updates out to connected websocket clients. Slow
// clients are disconnected instead of blocking the broadcast path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     *logger.Log
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub(log *logger.Log) *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		log:     log,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message to every connected client. A client whose send
// buffer is full is dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	var dropped []*wsClient
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dropped {
		h.log.WithComponent("api").Warn("dropping slow websocket client")
		h.remove(client)
	}

	logger.RecordFlowMessage("view_broadcast", len(message))
}

// HandleUpgrade upgrades the request to a websocket connection and registers
// the client. initial, when non-nil, is sent right after the upgrade so a
// consumer does not wait for the next recompute.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("api").WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendSize),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.WithComponent("api").WithFields(logger.Fields{"clients": count}).Info("websocket client connected")

	if initial != nil {
		client.send <- initial
	}

	go client.writePump()
	go client.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	h.mu.Unlock()
	close(client.send)
}

// readPump drains inbound frames so pings and close frames get processed.
// The feed is one-directional; client payloads are discarded.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
