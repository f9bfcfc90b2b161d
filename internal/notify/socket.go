package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// socketMessage is the envelope pushed to websocket clients
type socketMessage struct {
	Type    string `json:"type"`
	Payload *Event `json:"payload"`
}

type socketClient struct {
	hub       *Hub
	conn      *websocket.Conn
	recipient string
	send      chan []byte
}

// Hub tracks live websocket connections by recipient id. Events for a
// recipient with no live connection are dropped; nothing is queued.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*socketClient]struct{}
	log     *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*socketClient]struct{}),
		log:     log,
	}
}

// Name identifies the channel in metrics
func (h *Hub) Name() string { return "socket" }

// HandleWS upgrades the request and registers the connection under the
// recipient query parameter.
// GET /ws?recipient=<id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &socketClient{
		hub:       h,
		conn:      conn,
		recipient: recipient,
		send:      make(chan []byte, sendBufferSize),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// Send pushes the event to every live connection of its recipient
func (h *Hub) Send(ctx context.Context, ev *Event) error {
	if ev.Recipient == "" {
		return nil
	}

	data, err := json.Marshal(socketMessage{Type: "alert_triggered", Payload: ev})
	if err != nil {
		return fmt.Errorf("marshal socket message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.clients[ev.Recipient]
	if len(conns) == 0 {
		h.log.WithFields(logrus.Fields{
			"alert_id":  ev.AlertID,
			"recipient": ev.Recipient,
		}).Debug("No live connection for recipient, dropping notification")
		return nil
	}

	for c := range conns {
		select {
		case c.send <- data:
		default:
			h.log.WithField("recipient", ev.Recipient).Warn("Dropping notification for slow websocket client")
		}
	}
	return nil
}

// Connections returns the number of live connections for recipient
func (h *Hub) Connections(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[recipient])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for recipient, conns := range h.clients {
		for c := range conns {
			close(c.send)
		}
		delete(h.clients, recipient)
	}
}

func (h *Hub) register(c *socketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.recipient]
	if !ok {
		conns = make(map[*socketClient]struct{})
		h.clients[c.recipient] = conns
	}
	conns[c] = struct{}{}
}

func (h *Hub) unregister(c *socketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.recipient]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.recipient)
	}
}

// readPump only services control frames; clients do not send data
func (c *socketClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *socketClient) writePump() {
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
