package tracking

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should validate the origin
		return true
	},
}

// Update is one tracking message pushed to connected customers. Kind is the
// event type that produced it, e.g. ORDER_ACCEPTED or DELIVERY_STATUS_CHANGED.
type Update struct {
	Kind      string      `json:"kind"`
	OrderID   string      `json:"order_id"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Update
	// orderID filters the feed; empty means the client watches everything.
	orderID string
	hub     *Hub
	logger  *logrus.Logger
}

// Hub fans order progress out to websocket subscribers. A client connects
// with ?order_id= to follow one order, or without to follow the firehose.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Update
	register   chan *client
	unregister chan *client
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Update, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"client_count": h.ClientCount(),
				"order_id":     c.orderID,
			}).Info("Tracking client connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.logger.WithField("client_count", h.ClientCount()).Info("Tracking client disconnected")

		case update := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				if c.orderID != "" && c.orderID != update.OrderID {
					continue
				}
				select {
				case c.send <- update:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Notify queues an update for every subscriber of the order. It never blocks
// the caller: a full hub drops the update and logs.
func (h *Hub) Notify(kind, orderID string, data interface{}) {
	update := Update{
		Kind:      kind,
		OrderID:   orderID,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- update:
	default:
		h.logger.WithField("order_id", orderID).Warn("Tracking broadcast channel full, dropping update")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan Update, 256),
		orderID: r.URL.Query().Get("order_id"),
		hub:     h,
		logger:  h.logger,
	}

	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(update)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal tracking update")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
